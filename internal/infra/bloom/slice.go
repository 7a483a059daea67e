package bloom

import (
	"fmt"

	"dccgate/internal/domain"
)

// DecodeSlice turns a materialized slice payload into a queryable filter.
// Slice types other than BLOOMFILTER are reported as unsupported.
func DecodeSlice(slice domain.Slice) (domain.FilterKind, error) {
	if slice.Type != domain.SliceTypeBloomFilter {
		return domain.FilterKind{Tag: domain.FilterKindUnsupported, Type: slice.Type},
			fmt.Errorf("%w: %s", domain.ErrUnsupportedFilter, slice.Type)
	}
	if len(slice.Payload) == 0 {
		return domain.FilterKind{}, fmt.Errorf("%w: slice %s has no payload", domain.ErrInvalidBloomFilter, slice.HashID)
	}
	f, err := Decode(slice.Payload)
	if err != nil {
		return domain.FilterKind{}, err
	}
	return domain.FilterKind{Tag: domain.FilterKindBloom, Type: slice.Type, Filter: f}, nil
}
