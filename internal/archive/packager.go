package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const (
	archiveTimestampLayoutConstant      = "2006-01-02_15-04-05"
	archiveFileNameTemplateConstant     = "%s_%s_%s_meta%d_%dMB.tar.gz"
	archiveExtensionConstant            = ".tar.gz"
	repositoryArchiveMemberConstant     = "repository"
	metadataArchiveMemberConstant       = "metadata.json"
	manifestArchiveMemberConstant       = "backup-info.json"
	bytesPerMegabyteConstant            = 1024 * 1024
	archiveCreateErrorTemplateConstant  = "unable to create archive %s: %w"
	archiveAppendErrorTemplateConstant  = "unable to add %s to archive: %w"
	manifestEncodeErrorMessageConstant  = "unable to encode archive manifest"
	logMessageArchiveCreatedConstant    = "archive created"
	logFieldArchivePathConstant         = "archive_path"
	logFieldArchiveSizeBytesConstant    = "archive_size_bytes"
	logFieldRepositoryNameConstant      = "repository_name"
	archiveMemberPermissionsConstant    = 0o644
	archiveDirectoryPermissionsConstant = 0o755
)

// Manifest describes an archive's contents without requiring extraction.
type Manifest struct {
	WorkspaceSlug     string    `json:"workspace"`
	RepositoryName    string    `json:"repository"`
	Timestamp         string    `json:"timestamp"`
	MetadataItemCount int       `json:"metadata_item_count"`
	ContentSizeBytes  int64     `json:"content_size_bytes"`
	CreatedAt         time.Time `json:"created_at"`
}

// PackageRequest names the inputs for one archive.
type PackageRequest struct {
	WorkspaceSlug     string
	RepositoryName    string
	Timestamp         time.Time
	MirrorPath        string
	MetadataFilePath  string
	MetadataItemCount int
	OutputDirectory   string
}

// Packager builds deterministic tar.gz archives from mirror clones and
// metadata snapshots.
type Packager struct {
	logger *zap.Logger
}

// NewPackager constructs a Packager.
func NewPackager(logger *zap.Logger) *Packager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packager{logger: logger}
}

// ArchiveFileName renders the deterministic archive name. Names sort
// chronologically within a repository directory and describe their own
// contents.
func ArchiveFileName(workspaceSlug string, repositoryName string, timestamp time.Time, metadataItemCount int, contentSizeBytes int64) string {
	sizeMegabytes := contentSizeBytes / bytesPerMegabyteConstant
	return fmt.Sprintf(
		archiveFileNameTemplateConstant,
		workspaceSlug,
		repositoryName,
		timestamp.Format(archiveTimestampLayoutConstant),
		metadataItemCount,
		sizeMegabytes,
	)
}

// Package writes one archive containing the mirror clone, the metadata
// snapshot when present, and a manifest. It returns the archive path.
func (packager *Packager) Package(request PackageRequest) (string, error) {
	contentSizeBytes, sizeError := directorySizeBytes(request.MirrorPath)
	if sizeError != nil {
		return "", fmt.Errorf(archiveCreateErrorTemplateConstant, request.RepositoryName, sizeError)
	}
	if metadataSize, metadataSizeError := fileSizeBytes(request.MetadataFilePath); metadataSizeError == nil {
		contentSizeBytes += metadataSize
	}

	archiveName := ArchiveFileName(request.WorkspaceSlug, request.RepositoryName, request.Timestamp, request.MetadataItemCount, contentSizeBytes)
	archivePath := filepath.Join(request.OutputDirectory, archiveName)

	if directoryError := os.MkdirAll(request.OutputDirectory, archiveDirectoryPermissionsConstant); directoryError != nil {
		return "", fmt.Errorf(archiveCreateErrorTemplateConstant, archivePath, directoryError)
	}

	archiveFile, createError := os.Create(archivePath)
	if createError != nil {
		return "", fmt.Errorf(archiveCreateErrorTemplateConstant, archivePath, createError)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	tarWriter := tar.NewWriter(gzipWriter)

	if appendError := appendDirectory(tarWriter, request.MirrorPath, repositoryArchiveMemberConstant); appendError != nil {
		return "", fmt.Errorf(archiveAppendErrorTemplateConstant, repositoryArchiveMemberConstant, appendError)
	}

	if len(request.MetadataFilePath) > 0 {
		if appendError := appendFile(tarWriter, request.MetadataFilePath, metadataArchiveMemberConstant); appendError != nil {
			return "", fmt.Errorf(archiveAppendErrorTemplateConstant, metadataArchiveMemberConstant, appendError)
		}
	}

	manifest := Manifest{
		WorkspaceSlug:     request.WorkspaceSlug,
		RepositoryName:    request.RepositoryName,
		Timestamp:         request.Timestamp.Format(archiveTimestampLayoutConstant),
		MetadataItemCount: request.MetadataItemCount,
		ContentSizeBytes:  contentSizeBytes,
		CreatedAt:         time.Now().UTC(),
	}
	if appendError := appendManifest(tarWriter, manifest); appendError != nil {
		return "", fmt.Errorf(archiveAppendErrorTemplateConstant, manifestArchiveMemberConstant, appendError)
	}

	if closeError := tarWriter.Close(); closeError != nil {
		return "", fmt.Errorf(archiveCreateErrorTemplateConstant, archivePath, closeError)
	}
	if closeError := gzipWriter.Close(); closeError != nil {
		return "", fmt.Errorf(archiveCreateErrorTemplateConstant, archivePath, closeError)
	}

	archiveInfo, statError := os.Stat(archivePath)
	if statError == nil {
		packager.logger.Info(
			logMessageArchiveCreatedConstant,
			zap.String(logFieldRepositoryNameConstant, request.RepositoryName),
			zap.String(logFieldArchivePathConstant, archivePath),
			zap.Int64(logFieldArchiveSizeBytesConstant, archiveInfo.Size()),
		)
	}

	return archivePath, nil
}

func appendDirectory(tarWriter *tar.Writer, directoryPath string, archiveMemberPrefix string) error {
	return filepath.WalkDir(directoryPath, func(currentPath string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}

		relativePath, relativeError := filepath.Rel(directoryPath, currentPath)
		if relativeError != nil {
			return relativeError
		}
		memberName := filepath.ToSlash(filepath.Join(archiveMemberPrefix, relativePath))

		entryInfo, infoError := directoryEntry.Info()
		if infoError != nil {
			return infoError
		}

		header, headerError := tar.FileInfoHeader(entryInfo, "")
		if headerError != nil {
			return headerError
		}
		header.Name = memberName

		if writeError := tarWriter.WriteHeader(header); writeError != nil {
			return writeError
		}
		if directoryEntry.IsDir() {
			return nil
		}

		sourceFile, openError := os.Open(currentPath)
		if openError != nil {
			return openError
		}
		defer sourceFile.Close()

		_, copyError := io.Copy(tarWriter, sourceFile)
		return copyError
	})
}

func appendFile(tarWriter *tar.Writer, filePath string, archiveMemberName string) error {
	fileInfo, statError := os.Stat(filePath)
	if statError != nil {
		return statError
	}

	header, headerError := tar.FileInfoHeader(fileInfo, "")
	if headerError != nil {
		return headerError
	}
	header.Name = archiveMemberName

	if writeError := tarWriter.WriteHeader(header); writeError != nil {
		return writeError
	}

	sourceFile, openError := os.Open(filePath)
	if openError != nil {
		return openError
	}
	defer sourceFile.Close()

	_, copyError := io.Copy(tarWriter, sourceFile)
	return copyError
}

func appendManifest(tarWriter *tar.Writer, manifest Manifest) error {
	encodedManifest, encodeError := json.MarshalIndent(manifest, "", "  ")
	if encodeError != nil {
		return fmt.Errorf("%s: %w", manifestEncodeErrorMessageConstant, encodeError)
	}

	header := &tar.Header{
		Name:    manifestArchiveMemberConstant,
		Mode:    archiveMemberPermissionsConstant,
		Size:    int64(len(encodedManifest)),
		ModTime: manifest.CreatedAt,
	}
	if writeError := tarWriter.WriteHeader(header); writeError != nil {
		return writeError
	}
	_, writeError := tarWriter.Write(encodedManifest)
	return writeError
}

func directorySizeBytes(directoryPath string) (int64, error) {
	var totalBytes int64
	walkError := filepath.WalkDir(directoryPath, func(currentPath string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			return walkError
		}
		if directoryEntry.IsDir() {
			return nil
		}
		entryInfo, infoError := directoryEntry.Info()
		if infoError != nil {
			return infoError
		}
		totalBytes += entryInfo.Size()
		return nil
	})
	return totalBytes, walkError
}

func fileSizeBytes(filePath string) (int64, error) {
	if len(filePath) == 0 {
		return 0, os.ErrNotExist
	}
	fileInfo, statError := os.Stat(filePath)
	if statError != nil {
		return 0, statError
	}
	return fileInfo.Size(), nil
}
