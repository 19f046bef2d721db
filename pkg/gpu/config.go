package gpu

import (
	"sort"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	MinDiskSpaceGB         float64 = 50
	NetworkSpeedCapMbps    float64 = 1000
	DiskSpaceCapGB         float64 = 200
	ReliabilityPenalty     float64 = 0.5
	NetworkPenalty         float64 = 0.3
	CUDAMismatchScore      float64 = 0.5
	DefaultFallbackWidth   int     = 2
	defaultRequiredCUDA    string  = "12.0"
	defaultRequiredDiskGB  int     = 50
	defaultPreferredUptime float64 = 0.95
)

// DefaultFallbackConfigs returns the search profiles in ascending priority.
// Later profiles allow cheaper and smaller GPUs with looser reliability floors.
func DefaultFallbackConfigs() []types.GPUConfig {
	configs := []types.GPUConfig{
		{GPUName: "RTX 4090", VRAMGB: 24, MinVRAMGB: 24, MaxPricePerHour: 0.50, CUDAVersion: defaultRequiredCUDA, DiskSpaceGB: defaultRequiredDiskGB, Priority: 1, PreferredReliability: 0.98, MinNetworkSpeedMbps: 500},
		{GPUName: "RTX 4090", VRAMGB: 24, MinVRAMGB: 24, MaxPricePerHour: 0.75, CUDAVersion: defaultRequiredCUDA, DiskSpaceGB: defaultRequiredDiskGB, Priority: 2, PreferredReliability: defaultPreferredUptime, MinNetworkSpeedMbps: 200},
		{GPUName: "RTX A6000", VRAMGB: 48, MinVRAMGB: 40, MaxPricePerHour: 0.80, CUDAVersion: defaultRequiredCUDA, DiskSpaceGB: defaultRequiredDiskGB, Priority: 3, PreferredReliability: defaultPreferredUptime, MinNetworkSpeedMbps: 200},
		{GPUName: "L40S", VRAMGB: 48, MinVRAMGB: 40, MaxPricePerHour: 1.00, CUDAVersion: defaultRequiredCUDA, DiskSpaceGB: defaultRequiredDiskGB, Priority: 4, PreferredReliability: defaultPreferredUptime, MinNetworkSpeedMbps: 200},
		{GPUName: "A100 PCIE", VRAMGB: 40, MinVRAMGB: 40, MaxPricePerHour: 1.20, CUDAVersion: "11.8", DiskSpaceGB: defaultRequiredDiskGB, Priority: 5, PreferredReliability: defaultPreferredUptime, MinNetworkSpeedMbps: 200},
		{GPUName: "RTX 3090", VRAMGB: 24, MinVRAMGB: 24, MaxPricePerHour: 0.40, CUDAVersion: "11.8", DiskSpaceGB: defaultRequiredDiskGB, Priority: 6, PreferredReliability: 0.93, MinNetworkSpeedMbps: 100},
		{GPUName: "RTX A5000", VRAMGB: 24, MinVRAMGB: 20, MaxPricePerHour: 0.45, CUDAVersion: "11.8", DiskSpaceGB: defaultRequiredDiskGB, Priority: 7, PreferredReliability: 0.92, MinNetworkSpeedMbps: 100},
		{GPUName: "RTX 3090", VRAMGB: 24, MinVRAMGB: 20, MaxPricePerHour: 0.60, CUDAVersion: "11.8", DiskSpaceGB: defaultRequiredDiskGB, Priority: 8, PreferredReliability: 0.90, MinNetworkSpeedMbps: 50},
		{GPUName: "RTX 4080", VRAMGB: 16, MinVRAMGB: 16, MaxPricePerHour: 0.45, CUDAVersion: "11.8", DiskSpaceGB: defaultRequiredDiskGB, Priority: 9, PreferredReliability: 0.90, MinNetworkSpeedMbps: 50},
		{GPUName: "RTX 3080", VRAMGB: 10, MinVRAMGB: 10, MaxPricePerHour: 0.35, CUDAVersion: "11.0", DiskSpaceGB: defaultRequiredDiskGB, Priority: 10, PreferredReliability: 0.85, MinNetworkSpeedMbps: 25},
	}

	SortByPriority(configs)
	return configs
}

func SortByPriority(configs []types.GPUConfig) {
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority < configs[j].Priority
	})
}
