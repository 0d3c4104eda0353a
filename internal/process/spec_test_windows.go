//go:build windows

package process

import (
	"context"
	"testing"
)

func TestBuildCommandNewProcessGroup_Windows(t *testing.T) {
	spec := Spec{Name: "analyze", Path: `C:\logic\venv\Scripts\python.exe`, Args: []string{"main.py"}}
	cmd := spec.BuildCommand(context.Background())
	if cmd.SysProcAttr == nil || cmd.SysProcAttr.CreationFlags&CREATE_NEW_PROCESS_GROUP == 0 {
		t.Fatalf("expected CREATE_NEW_PROCESS_GROUP, got %+v", cmd.SysProcAttr)
	}
	if len(cmd.Args) != 2 || cmd.Args[1] != "main.py" {
		t.Fatalf("arguments must pass through unchanged: %v", cmd.Args)
	}
}
