package healthcheck

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/vesseld/vesseld/pkg/runtime"
)

// ExecChecker runs Cmd inside VMID via rt.ExecIn and considers exit code 0
// healthy - the same semantics as Docker's CMD/CMD-SHELL healthcheck.
type ExecChecker struct {
	Runtime runtime.Runtime
	VMID    string
	Cmd     []string
}

func (e *ExecChecker) Check(ctx context.Context, timeout time.Duration) Result {
	start := time.Now()
	if len(e.Cmd) == 0 {
		return Result{Healthy: false, Output: "no command specified", CheckedAt: start}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	_, wait, err := e.Runtime.ExecIn(execCtx, e.VMID, runtime.ExecSpec{
		Cmd:    e.Cmd,
		Stdout: &out,
		Stderr: &out,
	})
	if err != nil {
		return Result{Healthy: false, Output: fmt.Sprintf("exec failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	code, err := wait()
	if err != nil {
		return Result{Healthy: false, Output: fmt.Sprintf("wait failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}

	healthy := code == 0
	output := out.String()
	if len(output) > 4096 {
		output = output[len(output)-4096:]
	}
	if !healthy {
		output = fmt.Sprintf("exit code %d: %s", code, output)
	}
	return Result{Healthy: healthy, Output: output, CheckedAt: start, Duration: time.Since(start)}
}
