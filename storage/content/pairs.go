package content

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wholesum/bazaar/model/messages"
)

// MaxInlinePairsSize is the largest encoded pair list shipped inside a join
// need. Longer lists are uploaded and referenced by CID so that announcements
// stay well below the gossip message size.
const MaxInlinePairsSize = 3200

// EncodePairs returns the JSON encoding of a pair list, the format of pair
// lists referenced by CID.
func EncodePairs(pairs []messages.Pair) ([]byte, error) {
	if pairs == nil {
		pairs = []messages.Pair{}
	}
	return json.Marshal(pairs)
}

// DecodePairs parses a JSON pair list.
func DecodePairs(data []byte) ([]messages.Pair, error) {
	var pairs []messages.Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("could not decode pairs: %w", err)
	}
	return pairs, nil
}

// PackPairs returns pairs inline when their encoding fits MaxInlinePairsSize
// and uploads them otherwise.
func PackPairs(ctx context.Context, up Uploader, pairs []messages.Pair) (messages.Pairs, error) {
	data, err := EncodePairs(pairs)
	if err != nil {
		return nil, err
	}
	if len(data) <= MaxInlinePairsSize {
		return messages.InlinePairs(pairs), nil
	}
	c, err := up.Upload(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("could not upload pairs: %w", err)
	}
	return messages.PairsCID(c), nil
}

// ResolvePairs returns the pair list of a join need, fetching it when it is
// referenced by CID.
func ResolvePairs(ctx context.Context, f Fetcher, pairs messages.Pairs) ([]messages.Pair, error) {
	switch p := pairs.(type) {
	case messages.InlinePairs:
		return []messages.Pair(p), nil
	case messages.PairsCID:
		data, err := f.Fetch(ctx, string(p))
		if err != nil {
			return nil, err
		}
		list, err := DecodePairs(data)
		if err != nil {
			return nil, NewStorageError(Corrupted, string(p), err)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("invalid pairs type %T", pairs)
	}
}
