package resolver

import "github.com/discombobulate/discombobulate/internal/provider"

// RenditionPolicy picks the audio rendition to play automatically. It returns
// false when none of the renditions is acceptable.
type RenditionPolicy func([]provider.AudioRendition) (provider.AudioRendition, bool)

// BestBitrate picks the rendition with the highest average bitrate. Ties go to
// the first one listed.
func BestBitrate(renditions []provider.AudioRendition) (provider.AudioRendition, bool) {
	if len(renditions) == 0 {
		return provider.AudioRendition{}, false
	}
	best := renditions[0]
	for _, r := range renditions[1:] {
		if r.AverageBitrate > best.AverageBitrate {
			best = r
		}
	}
	return best, true
}

// MaxBitrate returns a policy choosing the best rendition at or below limit
// (bits per second), falling back to the lowest one available.
func MaxBitrate(limit int) RenditionPolicy {
	return func(renditions []provider.AudioRendition) (provider.AudioRendition, bool) {
		var under []provider.AudioRendition
		for _, r := range renditions {
			if r.AverageBitrate <= limit {
				under = append(under, r)
			}
		}
		if len(under) > 0 {
			return BestBitrate(under)
		}
		if len(renditions) == 0 {
			return provider.AudioRendition{}, false
		}
		low := renditions[0]
		for _, r := range renditions[1:] {
			if r.AverageBitrate < low.AverageBitrate {
				low = r
			}
		}
		return low, true
	}
}
