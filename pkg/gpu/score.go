package gpu

import (
	"math"
	"sort"

	"github.com/beam-cloud/llmgate/pkg/types"
)

// IsOfferCompatible applies the hard filters. A failing offer is never
// considered regardless of how well it would score.
func IsOfferCompatible(config types.GPUConfig, offer types.Offer) bool {
	if offer.VRAMGB() < float64(config.MinVRAMGB) {
		return false
	}

	if config.MaxPricePerHour > 0 && offer.PricePerHour > config.MaxPricePerHour {
		return false
	}

	if offer.DiskSpaceGB < MinDiskSpaceGB {
		return false
	}

	return offer.Rentable
}

type Scorer struct {
	weights types.ScoringWeights
}

func NewScorer(weights types.ScoringWeights) Scorer {
	if weights.IsZero() {
		weights = types.DefaultScoringWeights()
	}
	return Scorer{weights: weights}
}

func (s Scorer) Weights() types.ScoringWeights {
	return s.weights
}

// ComponentScores is the per-factor breakdown of an offer's score, each in [0,1].
type ComponentScores struct {
	Price       float64 `json:"price"`
	Reliability float64 `json:"reliability"`
	Network     float64 `json:"network"`
	CUDA        float64 `json:"cuda"`
	Disk        float64 `json:"disk"`
}

func Components(config types.GPUConfig, offer types.Offer) ComponentScores {
	return ComponentScores{
		Price:       priceScore(config, offer),
		Reliability: reliabilityScore(config, offer),
		Network:     networkScore(config, offer),
		CUDA:        cudaScore(config, offer),
		Disk:        diskScore(config, offer),
	}
}

// Score returns the weighted sum of the component scores, normalised by the
// total weight so the result stays in [0,1].
func (s Scorer) Score(config types.GPUConfig, offer types.Offer) float64 {
	c := Components(config, offer)
	w := s.weights

	total := w.Price + w.Reliability + w.Network + w.CUDA + w.Disk
	if total <= 0 {
		return 0
	}

	score := (w.Price*c.Price + w.Reliability*c.Reliability + w.Network*c.Network + w.CUDA*c.CUDA + w.Disk*c.Disk) / total
	return clamp01(score)
}

func priceScore(config types.GPUConfig, offer types.Offer) float64 {
	if config.MaxPricePerHour <= 0 {
		return 0
	}
	if offer.PricePerHour > config.MaxPricePerHour {
		return 0
	}
	return clamp01(1 - offer.PricePerHour/config.MaxPricePerHour)
}

func reliabilityScore(config types.GPUConfig, offer types.Offer) float64 {
	r := clamp01(offer.Reliability)
	if r < config.PreferredReliability {
		r *= ReliabilityPenalty
	}
	return r
}

func networkScore(config types.GPUConfig, offer types.Offer) float64 {
	n := clamp01(offer.InetDownMbps / NetworkSpeedCapMbps)
	if offer.InetDownMbps < config.MinNetworkSpeedMbps {
		n *= NetworkPenalty
	}
	return n
}

func cudaScore(config types.GPUConfig, offer types.Offer) float64 {
	if offer.CUDAMajor() >= config.CUDAMajor() {
		return 1
	}
	return CUDAMismatchScore
}

func diskScore(config types.GPUConfig, offer types.Offer) float64 {
	if offer.DiskSpaceGB < float64(config.DiskSpaceGB) {
		return 0
	}
	return clamp01(offer.DiskSpaceGB / DiskSpaceCapGB)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

type ScoredOffer struct {
	Offer types.Offer `json:"offer"`
	Score float64     `json:"score"`
}

// RankOffers drops incompatible offers and orders the rest by score, highest
// first. Ties go to the cheaper offer, then the lower offer id.
func (s Scorer) RankOffers(config types.GPUConfig, offers []types.Offer) []ScoredOffer {
	ranked := make([]ScoredOffer, 0, len(offers))
	for _, offer := range offers {
		if !IsOfferCompatible(config, offer) {
			continue
		}
		ranked = append(ranked, ScoredOffer{Offer: offer, Score: s.Score(config, offer)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Offer.PricePerHour != b.Offer.PricePerHour {
			return a.Offer.PricePerHour < b.Offer.PricePerHour
		}
		return a.Offer.ID < b.Offer.ID
	})

	return ranked
}
