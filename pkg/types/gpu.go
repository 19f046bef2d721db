package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GPUConfig is one search profile in the fallback sequence.
type GPUConfig struct {
	GPUName              string  `key:"gpuName" json:"gpu_name"`
	VRAMGB               int     `key:"vramGb" json:"vram_gb"`
	MinVRAMGB            int     `key:"minVram" json:"min_vram"`
	MaxPricePerHour      float64 `key:"maxPricePerHour" json:"max_price_per_hour"`
	CUDAVersion          string  `key:"cudaVersion" json:"cuda_version"`
	DiskSpaceGB          int     `key:"diskSpaceGb" json:"disk_space_gb"`
	Priority             int     `key:"priority" json:"priority"`
	PreferredReliability float64 `key:"preferredReliability" json:"preferred_reliability"`
	MinNetworkSpeedMbps  float64 `key:"minNetworkSpeedMbps" json:"min_network_speed_mbps"`
}

// CUDAMajor returns the major component of the required CUDA version.
func (c GPUConfig) CUDAMajor() int {
	return parseMajor(c.CUDAVersion)
}

type ScoringWeights struct {
	Price       float64 `key:"price" json:"price"`
	Reliability float64 `key:"reliability" json:"reliability"`
	Network     float64 `key:"network" json:"network"`
	CUDA        float64 `key:"cuda" json:"cuda"`
	Disk        float64 `key:"disk" json:"disk"`
}

func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Price: 0.40, Reliability: 0.30, Network: 0.15, CUDA: 0.10, Disk: 0.05}
}

func (w ScoringWeights) IsZero() bool {
	return w == ScoringWeights{}
}

// Offer is a rentable listing returned by the marketplace search endpoint.
type Offer struct {
	ID           int64   `json:"id"`
	AskID        int64   `json:"ask_contract_id,omitempty"`
	MachineID    int64   `json:"machine_id"`
	GPUName      string  `json:"gpu_name"`
	NumGPUs      int     `json:"num_gpus"`
	GPURAMMB     float64 `json:"gpu_ram"`
	PricePerHour float64 `json:"dph_total"`
	Reliability  float64 `json:"reliability2"`
	InetDownMbps float64 `json:"inet_down"`
	InetUpMbps   float64 `json:"inet_up"`
	CUDAMaxGood  float64 `json:"cuda_max_good"`
	DiskSpaceGB  float64 `json:"disk_space"`
	Rentable     bool    `json:"rentable"`
	Verified     bool    `json:"verified"`
	Geolocation  string  `json:"geolocation,omitempty"`
}

func (o Offer) VRAMGB() float64 {
	return o.GPURAMMB / 1024
}

func (o Offer) CUDAMajor() int {
	return int(o.CUDAMaxGood)
}

const (
	InstanceStatusRunning string = "running"
	InstanceStatusLoading string = "loading"
	InstanceStatusCreated string = "created"
	InstanceStatusExited  string = "exited"
	InstanceStatusStopped string = "stopped"
	InstanceStatusOffline string = "offline"
	InstanceStatusUnknown string = "unknown"
)

type PortBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// MarketplaceInstance is an instance as reported by the marketplace listing.
type MarketplaceInstance struct {
	ID             int64                    `json:"id"`
	MachineID      int64                    `json:"machine_id"`
	ActualStatus   string                   `json:"actual_status"`
	IntendedStatus string                   `json:"intended_status"`
	StatusMsg      string                   `json:"status_msg"`
	GPUName        string                   `json:"gpu_name"`
	GPURAMMB       float64                  `json:"gpu_ram"`
	PricePerHour   float64                  `json:"dph_total"`
	PublicIPAddr   string                   `json:"public_ipaddr"`
	Label          string                   `json:"label"`
	Ports          map[string][]PortBinding `json:"ports"`
}

// ExternalPort returns the host port mapped to the given internal tcp port.
func (i *MarketplaceInstance) ExternalPort(internalPort int) (int, bool) {
	bindings, ok := i.Ports[fmt.Sprintf("%d/tcp", internalPort)]
	if !ok {
		return 0, false
	}

	for _, b := range bindings {
		port, err := strconv.Atoi(b.HostPort)
		if err == nil && port > 0 {
			return port, true
		}
	}

	return 0, false
}

func (i *MarketplaceInstance) PublicIP() string {
	return strings.TrimSpace(i.PublicIPAddr)
}

func (i *MarketplaceInstance) Terminated() bool {
	return i.ActualStatus == InstanceStatusExited || i.ActualStatus == InstanceStatusStopped
}

// GPUInstance is the orchestrator's view of the instance it currently rents.
type GPUInstance struct {
	ID           int64     `json:"id"`
	GPUName      string    `json:"gpu_name"`
	PricePerHour float64   `json:"price_per_hour"`
	OfferID      int64     `json:"offer_id"`
	VRAMGB       float64   `json:"vram_gb"`
	PublicIP     string    `json:"public_ip"`
	ExternalPort int       `json:"external_port"`
	StartedAt    time.Time `json:"started_at"`
}

func (i *GPUInstance) Endpoint() string {
	if i.PublicIP == "" || i.ExternalPort == 0 {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", i.PublicIP, i.ExternalPort)
}

type LaunchState string

const (
	LaunchStateIdle         LaunchState = "idle"
	LaunchStateSearching    LaunchState = "searching"
	LaunchStateLaunching    LaunchState = "launching"
	LaunchStateBooting      LaunchState = "booting"
	LaunchStateStartingVLLM LaunchState = "starting_vllm"
	LaunchStateReady        LaunchState = "ready"
	LaunchStateFailed       LaunchState = "failed"
)

// InFlight reports whether a launch sequence currently owns the state.
func (s LaunchState) InFlight() bool {
	switch s {
	case LaunchStateIdle, LaunchStateReady, LaunchStateFailed:
		return false
	case LaunchStateSearching, LaunchStateLaunching, LaunchStateBooting, LaunchStateStartingVLLM:
		return true
	}
	return false
}

func parseMajor(version string) int {
	major, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	v, err := strconv.Atoi(major)
	if err != nil {
		return 0
	}
	return v
}
