package producer

import (
	"errors"

	"github.com/sentryd/sentryd/internal/log"
	"go.uber.org/zap"
)

// New selects the kernel producer when cfg.BPFObjectPath is set and the
// platform supports it, falling back to the synthetic generator
// otherwise. This is the one place the rest of the agent needs to care
// about the Linux/non-Linux split.
func New(cfg Config) (Producer, error) {
	if cfg.BPFObjectPath == "" {
		log.L().Info("BPF_OBJECT_PATH not set, using synthetic producer")
		return NewSynthetic(cfg), nil
	}

	k, err := NewKernel(cfg)
	if err == nil {
		return k, nil
	}
	if errors.Is(err, ErrNoBPFObject) {
		return NewSynthetic(cfg), nil
	}
	log.L().Warn("kernel producer unavailable, falling back to synthetic producer", zap.Error(err))
	return NewSynthetic(cfg), nil
}
