package forge

import (
	"context"
	"encoding/json"
	"net/url"
)

// pageEnvelope mirrors the API's list envelope: a values array plus an opaque
// next-page URL, absent on the final page.
type pageEnvelope struct {
	Values []json.RawMessage `json:"values"`
	Next   string            `json:"next"`
}

// CollectPages follows opaque next cursors until exhausted and concatenates
// the item lists. A cursor identical to the page just fetched is treated as
// end-of-stream so a misbehaving endpoint cannot loop the client forever.
func (client *Client) CollectPages(executionContext context.Context, credentials Credentials, resourcePath string, params url.Values) ([]json.RawMessage, error) {
	var collectedItems []json.RawMessage

	nextCursor := resourcePath
	firstPage := true

	for len(nextCursor) > 0 {
		var payload json.RawMessage
		var pageError error
		if firstPage {
			payload, pageError = client.GetWithParams(executionContext, credentials, nextCursor, params)
			firstPage = false
		} else {
			payload, pageError = client.Get(executionContext, credentials, nextCursor)
		}
		if pageError != nil {
			return collectedItems, pageError
		}

		var envelope pageEnvelope
		if decodeError := DecodeInto(payload, &envelope); decodeError != nil {
			return collectedItems, decodeError
		}

		collectedItems = append(collectedItems, envelope.Values...)

		if envelope.Next == nextCursor {
			break
		}
		nextCursor = envelope.Next
	}

	return collectedItems, nil
}

// CollectTypedPages decodes every collected page item into the element type.
func CollectTypedPages[Element any](executionContext context.Context, client *Client, credentials Credentials, resourcePath string, params url.Values) ([]Element, error) {
	rawItems, collectError := client.CollectPages(executionContext, credentials, resourcePath, params)
	if collectError != nil {
		return nil, collectError
	}

	elements := make([]Element, 0, len(rawItems))
	for _, rawItem := range rawItems {
		var element Element
		if decodeError := DecodeInto(rawItem, &element); decodeError != nil {
			return nil, decodeError
		}
		elements = append(elements, element)
	}
	return elements, nil
}
