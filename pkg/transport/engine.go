package transport

import (
	"fmt"

	"github.com/irctrakz/arqlink/pkg/core"
	"github.com/irctrakz/arqlink/pkg/kcp"
)

// ApplyEngineConfig configures k from cfg. Zero fields keep engine defaults.
func ApplyEngineConfig(k *kcp.KCP, cfg core.EngineConfig) error {
	if cfg.MTU > 0 {
		if err := k.SetMTU(cfg.MTU); err != nil {
			return fmt.Errorf("mtu %d: %w", cfg.MTU, err)
		}
	}
	k.SetWindow(cfg.SndWnd, cfg.RcvWnd)

	p, err := cfg.NoDelayParams()
	if err != nil {
		return err
	}
	k.SetNoDelay(p.NoDelay, p.Interval, p.Resend, p.NC)

	if cfg.MinRTO > 0 {
		k.SetMinRTO(cfg.MinRTO)
	}
	if cfg.DeadLink > 0 {
		k.SetDeadLink(cfg.DeadLink)
	}
	if cfg.FastLimit != nil {
		k.SetFastLimit(*cfg.FastLimit)
	}
	if cfg.QueueLimit != nil {
		k.SetQueueLimit(*cfg.QueueLimit)
	}
	k.SetStreamMode(cfg.Stream)
	k.SetLogMask(cfg.LogMask)
	return nil
}
