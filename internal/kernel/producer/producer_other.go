//go:build !linux

package producer

import (
	"context"
	"fmt"
)

// NewKernel is unavailable on non-Linux builds; callers should fall back
// to NewSynthetic when this returns an error.
func NewKernel(cfg Config) (*Kernel, error) {
	return nil, fmt.Errorf("producer: kernel producer requires Linux")
}

// Kernel is an unusable placeholder type on non-Linux builds, present
// only so other packages can reference *producer.Kernel in type
// signatures without build-tag gymnastics.
type Kernel struct{}

func (k *Kernel) Source() Source                  { return nil }
func (k *Kernel) Run(ctx context.Context) error   { return fmt.Errorf("producer: kernel producer requires Linux") }
func (k *Kernel) Close() error                    { return nil }
