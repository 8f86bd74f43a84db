package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/servicecluster/internal/domain"
)

// Scheduler determines which host should run a new VM.
type Scheduler struct {
	hostRepo HostRepository
	config   Config
	logger   *zap.Logger
}

// New creates a new Scheduler instance.
func New(hostRepo HostRepository, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		hostRepo: hostRepo,
		config:   config.withDefaults(),
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Candidate is a host that satisfies a request, with its balance score.
type Candidate struct {
	Host  *domain.Host
	Score float64
}

// Result contains the scheduling decision.
type Result struct {
	Host       *domain.Host
	Score      float64
	Candidates int
	Reason     string
}

// FindSuitableHost selects one host able to run the requested VM. It returns
// domain.ErrNoSuitableHost when no host qualifies. Hosts are read once and not
// reserved, so concurrent callers may be given the same host.
func (s *Scheduler) FindSuitableHost(ctx context.Context, req *domain.PlacementRequest) (*Result, error) {
	logger := s.logger.With(
		zap.Int32("requested_cpu_count", req.CPUCount),
		zap.Int64("requested_memory_mib", req.MemorySizeMiB),
		zap.Int64("requested_disk_gb", req.DiskSizeGB),
	)
	logger.Debug("Starting host selection")

	hosts, err := s.hostRepo.List(ctx)
	if err != nil {
		logger.Error("Failed to list hosts", zap.Error(err))
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}

	ranked := Rank(hosts, req, s.config)
	if len(ranked) == 0 {
		logger.Info("No host satisfies placement requirements", zap.Int("total_hosts", len(hosts)))
		return nil, domain.ErrNoSuitableHost
	}

	best := ranked[0]

	logger.Info("Selected host",
		zap.Int64("host_id", best.Host.ID),
		zap.String("host_name", best.Host.Name),
		zap.Float64("score", best.Score),
		zap.Int("candidates", len(ranked)),
	)

	return &Result{
		Host:       best.Host,
		Score:      best.Score,
		Candidates: len(ranked),
		Reason:     fmt.Sprintf("Best score using %s strategy", s.config.PlacementStrategy),
	}, nil
}

// Rank filters hosts that can hold req and orders them best first according
// to cfg. Ties keep the lowest host ID first. The input slice is not modified.
func Rank(hosts []*domain.Host, req *domain.PlacementRequest, cfg Config) []Candidate {
	cfg = cfg.withDefaults()

	var candidates []Candidate
	for _, h := range hosts {
		if Fits(h, req, cfg) {
			candidates = append(candidates, Candidate{Host: h, Score: BalanceScore(h)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			if cfg.PlacementStrategy == StrategySpread {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.Host.ID < b.Host.ID
	})

	return candidates
}

// Fits applies the hard resource thresholds of req to h.
func Fits(h *domain.Host, req *domain.PlacementRequest, cfg Config) bool {
	cfg = cfg.withDefaults()
	requiredCPUPercent := float64(req.CPUCount) * cfg.CPUPercentPerCore

	return h.AvailableDiskGB >= req.DiskSizeGB &&
		float64(h.AvailableMemoryGB) >= req.MemoryGB() &&
		h.AvailableCPUPercent >= requiredCPUPercent &&
		h.CoreCount >= req.CPUCount
}

// BalanceScore is the mean of the disk, memory and CPU availability ratios of h.
func BalanceScore(h *domain.Host) float64 {
	return (h.DiskRatio() + h.MemoryRatio() + h.CPURatio()) / 3
}
