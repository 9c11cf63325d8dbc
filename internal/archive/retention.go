package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	logMessageRetentionPrunedConstant   = "retention pruned entry"
	logMessageRetentionFailureConstant  = "retention deletion failed"
	logFieldPrunedPathConstant          = "pruned_path"
	defaultRetentionCountConstant       = 5
	minimumRetentionCountConstant       = 1
	timestampedDirectoryPrefixConstant  = "20"
)

// Pruner removes archives and timestamped working directories beyond the
// configured retention count. Deletion failures are logged and never abort
// the run.
type Pruner struct {
	maximumBackups int
	logger         *zap.Logger
}

// NewPruner constructs a Pruner. Counts below one fall back to the default.
func NewPruner(maximumBackups int, logger *zap.Logger) *Pruner {
	if maximumBackups < minimumRetentionCountConstant {
		maximumBackups = defaultRetentionCountConstant
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pruner{maximumBackups: maximumBackups, logger: logger}
}

type rankedEntry struct {
	path             string
	modificationTime int64
}

// PruneRepository enforces retention inside one repository directory: the
// newest maximumBackups archives and the newest maximumBackups timestamped
// directories survive, ranked by modification time. It returns the number of
// entries removed.
func (pruner *Pruner) PruneRepository(repositoryDirectory string) int {
	directoryEntries, readError := os.ReadDir(repositoryDirectory)
	if readError != nil {
		return 0
	}

	var archives []rankedEntry
	var timestampedDirectories []rankedEntry
	for _, directoryEntry := range directoryEntries {
		entryInfo, infoError := directoryEntry.Info()
		if infoError != nil {
			continue
		}
		entryPath := filepath.Join(repositoryDirectory, directoryEntry.Name())
		ranked := rankedEntry{path: entryPath, modificationTime: entryInfo.ModTime().UnixNano()}

		switch {
		case !directoryEntry.IsDir() && strings.HasSuffix(directoryEntry.Name(), archiveExtensionConstant):
			archives = append(archives, ranked)
		case directoryEntry.IsDir() && strings.HasPrefix(directoryEntry.Name(), timestampedDirectoryPrefixConstant):
			timestampedDirectories = append(timestampedDirectories, ranked)
		}
	}

	removedCount := pruner.pruneRanked(archives)
	removedCount += pruner.pruneRanked(timestampedDirectories)
	return removedCount
}

func (pruner *Pruner) pruneRanked(entries []rankedEntry) int {
	if len(entries) <= pruner.maximumBackups {
		return 0
	}

	sort.Slice(entries, func(firstIndex, secondIndex int) bool {
		return entries[firstIndex].modificationTime > entries[secondIndex].modificationTime
	})

	removedCount := 0
	for _, staleEntry := range entries[pruner.maximumBackups:] {
		if removeError := os.RemoveAll(staleEntry.path); removeError != nil {
			pruner.logger.Warn(
				logMessageRetentionFailureConstant,
				zap.String(logFieldPrunedPathConstant, staleEntry.path),
				zap.Error(removeError),
			)
			continue
		}
		pruner.logger.Debug(logMessageRetentionPrunedConstant, zap.String(logFieldPrunedPathConstant, staleEntry.path))
		removedCount++
	}
	return removedCount
}
