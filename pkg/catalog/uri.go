package catalog

import (
	"fmt"
	"strings"
)

// identitySegment is the index of the identity in a slash-split asset URI.
const identitySegment = 5

// ParseAssetURI extracts the asset identity from a directional lineage URI.
//
// Grammar:
//
//	uri      = "/" seg "/" seg "/" seg "/" seg "/" identity [ "/" ... ] [ "?" query ]
//	identity = 1*( any char except "/" and "?" )
//
// For example "/data360/search/v1/assets/3f2a?scheme=internal" yields "3f2a".
func ParseAssetURI(uri string) (string, error) {
	path, _, _ := strings.Cut(uri, "?")
	segments := strings.Split(path, "/")
	if len(segments) <= identitySegment {
		return "", fmt.Errorf("%w: %q has %d segments", ErrMalformedURI, uri, len(segments))
	}
	id := strings.TrimSpace(segments[identitySegment])
	if id == "" {
		return "", fmt.Errorf("%w: %q has an empty identity", ErrMalformedURI, uri)
	}
	return id, nil
}

// AssetURI renders the canonical detail URI for an identity, the inverse
// of ParseAssetURI.
func AssetURI(id string) string {
	return "/data360/search/v1/assets/" + id + "?scheme=internal"
}

// NeighborID decodes the identity at the far end of item when walking in
// direction d.
func NeighborID(item LineageItem, d Direction) (string, error) {
	if d == Inbound {
		return ParseAssetURI(item.FromURI)
	}
	return ParseAssetURI(item.ToURI)
}
