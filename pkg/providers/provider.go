package providers

import (
	"context"
	"time"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const (
	vastApiBaseUrl      string        = "https://console.vast.ai/api/v0"
	defaultMaxRetries   int           = 3
	defaultRetryDelay   time.Duration = time.Second
	defaultHTTPTimeout  time.Duration = 30 * time.Second
	defaultSearchLimit  int           = 64
	defaultInstanceType string        = "on-demand"
)

// Marketplace is the GPU rental surface consumed by the orchestrator.
type Marketplace interface {
	SearchOffers(ctx context.Context, params SearchParams) ([]types.Offer, error)
	CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreatedInstance, error)
	GetInstance(ctx context.Context, instanceId int64) (*types.MarketplaceInstance, error)
	ListInstances(ctx context.Context) ([]types.MarketplaceInstance, error)
	DestroyInstance(ctx context.Context, instanceId int64) (bool, error)
}

type SearchParams struct {
	GPUName       string
	MinVRAMGB     float64
	MaxPrice      float64
	VerifiedOnly  bool
	AvailableOnly bool
	Limit         int
}

type CreateInstanceRequest struct {
	OfferID    int64
	Image      string
	DiskGB     int
	Label      string
	DockerArgs string
	Env        map[string]string
	Ports      []int
	RunType    string
	OnStart    string
}

type CreatedInstance struct {
	ID      int64 `json:"new_contract"`
	Success bool  `json:"success"`
}
