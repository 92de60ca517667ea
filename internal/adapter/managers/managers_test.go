package managers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/models"
	"github.com/jasoncavinder/helm/internal/procrunner"
)

// fakeRunner replays canned output for Run, keyed by operation, and reports
// every binary as resolvable unless listed in missing.
type fakeRunner struct {
	outputs map[string][]byte
	missing map[string]bool
}

func (f *fakeRunner) Resolve(binary string) (string, error) {
	if f.missing[binary] {
		return "", assert.AnError
	}
	return "/usr/bin/" + binary, nil
}

func (f *fakeRunner) Run(ctx context.Context, managerID string, taskType models.TaskType, operation, binary string, args []string, timeout time.Duration) (*procrunner.Result, error) {
	return &procrunner.Result{Stdout: f.outputs[operation]}, nil
}

func TestHomebrewFormula_ListInstalled(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{
		"list_installed": []byte("git 2.43.0\nwget 1.21.4\nfzf\n"),
	}}
	mgr := NewHomebrewFormula(fr)
	resp, err := mgr.ListInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Packages, 3)
	assert.Equal(t, "git", resp.Packages[0].Ref.Name)
	assert.Equal(t, "2.43.0", *resp.Packages[0].InstalledVersion)
	assert.Nil(t, resp.Packages[2].InstalledVersion)
}

func TestHomebrewFormula_ListOutdatedJSON(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{
		"list_outdated": []byte(`{"formulae":[{"name":"wget","installed_versions":["1.21.3"],"current_version":"1.21.4","pinned":false}],"casks":[]}`),
	}}
	mgr := NewHomebrewFormula(fr)
	resp, err := mgr.ListOutdated(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Packages, 1)
	assert.Equal(t, "wget", resp.Packages[0].Ref.Name)
	assert.Equal(t, "1.21.4", resp.Packages[0].CandidateVersion)
}

func TestCargo_ListInstalledSkipsBinaryLines(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{
		"list_installed": []byte("ripgrep v14.0.3:\n    rg\nbat v0.24.0:\n    bat\n"),
	}}
	mgr := NewCargo(fr)
	resp, err := mgr.ListInstalled(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Packages, 2)
	assert.Equal(t, "ripgrep", resp.Packages[0].Ref.Name)
	assert.Equal(t, "14.0.3", *resp.Packages[0].InstalledVersion)
}

func TestRustup_ListOutdatedParsesUpdateLine(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{
		"list_outdated": []byte("stable-aarch64-apple-darwin - Update available : 1.75.0 -> 1.76.0\nnightly - Up to date : 1.78.0\n"),
	}}
	mgr := NewRustup(fr)
	resp, err := mgr.ListOutdated(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Packages, 1)
	assert.Equal(t, "1.76.0", resp.Packages[0].CandidateVersion)
}

func TestSoftwareUpdate_ListOutdatedParsesLabelLines(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{
		"list_outdated": []byte("Software Update Tool\n\n* Label: macOS Sonoma 14.5-23F79\n\tTitle: macOS Sonoma, Version: 14.5, Size: 3000000KiB, Recommended: YES, Action: restart,\n"),
	}}
	mgr := NewSoftwareUpdate(fr)
	resp, err := mgr.ListOutdated(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Packages, 1)
	assert.Equal(t, "macOS Sonoma 14.5-23F79", resp.Packages[0].Ref.Name)
}

func TestPin_OnMiseGlobal(t *testing.T) {
	fr := &fakeRunner{outputs: map[string][]byte{}}
	mgr := NewMise(fr)
	resp, err := mgr.Pin(context.Background(), adapter.Request{PackageName: "node", Version: "20.11.0"})
	require.NoError(t, err)
	assert.True(t, resp.Applied)
	assert.Equal(t, models.PinNative, resp.Source)
}
