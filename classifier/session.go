// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"github.com/gomlx/rapidsml/decode"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/transfer"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// withSession borrows the classifier's session for the duration of fn.
//
// The session is always released, after anything fn deferred (transfer handles in particular). If fn
// fails with a transport error, the session is discarded from the registry first.
func (c *Classifier) withSession(fn func(session remote.Session) error) (err error) {
	handle := c.opts.Handle
	session, err := c.registry.Acquire(handle, c.requester)
	if err != nil {
		return err
	}
	defer func() {
		if remote.IsTransportError(err) {
			c.registry.Discard(handle, session)
		}
		if releaseErr := c.registry.Release(handle, c.requester); releaseErr != nil {
			klog.Errorf("classifier %s: %+v", c.ref, releaseErr)
		}
	}()
	return fn(session)
}

func (c *Classifier) newSender(session remote.Session) *transfer.Sender {
	var options []transfer.Option
	if c.opts.DeviceMemory != nil {
		options = append(options, transfer.WithDeviceMemory(c.opts.DeviceMemory))
	}
	return transfer.NewSender(c.opts.Strategy, session, options...)
}

// releaseTransfer releases h, logging failures: it runs deferred, and must not mask the error being
// returned.
func (c *Classifier) releaseTransfer(sender *transfer.Sender, h *transfer.Handle) {
	if err := sender.Release(h); err != nil {
		klog.Errorf("classifier %s: releasing transfer of %q: %+v", c.ref, h.Frame(), err)
	}
}

func (c *Classifier) logScript(kind, script string) {
	if c.opts.Debug {
		klog.Infof("classifier %s: %s script:\n%s", c.ref, kind, script)
	} else if klog.V(2).Enabled() {
		klog.V(2).Infof("classifier %s: %s script:\n%s", c.ref, kind, script)
	}
}

// runScript executes script and applies the continue-on-error policy to its error stream.
func (c *Classifier) runScript(session remote.Session, kind, script string) error {
	c.logScript(kind, script)
	stdout, stderr, err := session.ExecuteScript(script)
	if err != nil {
		return err
	}
	if c.opts.Debug && stdout != "" {
		klog.Infof("classifier %s: %s script output:\n%s", c.ref, kind, stdout)
	}
	if err = decode.CheckStderr(stderr, c.opts.ContinueOnError); err != nil {
		return errors.WithMessagef(err, "%s script", kind)
	}
	return nil
}

// cleanupLocked deletes the remote model if the learner asks for it.
func (c *Classifier) cleanupLocked(session remote.Session) error {
	if !c.builder.Descriptor().ReleaseAfterUse {
		return nil
	}
	return c.runScript(session, "cleanup", c.builder.CleanupScript(c.ref))
}
