// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procmaps

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// Cmdline returns the command line of process pid, or its executable
// name if the command line is empty (as it is for kernel threads).
func Cmdline(ctx context.Context, pid int) (string, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	cmd, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	if cmd != "" {
		return cmd, nil
	}
	return p.NameWithContext(ctx)
}
