package adapterrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/adapter"
	"github.com/jasoncavinder/helm/internal/errs"
	"github.com/jasoncavinder/helm/internal/models"
)

func TestDetect_UnknownManager(t *testing.T) {
	rt := New(map[string]adapter.Manager{})
	_, err := rt.Detect(context.Background(), "not_a_manager")
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidInput, errs.KindOf(err))
}

func TestPin_UnsupportedCapability(t *testing.T) {
	// go is registered but declares no PIN capability.
	rt := New(map[string]adapter.Manager{"go": {ID: "go"}})
	_, err := rt.Pin(context.Background(), "go", adapter.Request{PackageName: "x"})
	require.Error(t, err)
	assert.Equal(t, models.ErrUnsupportedCapability, errs.KindOf(err))
}

func TestSearch_DescriptorPresentAdapterMissing(t *testing.T) {
	rt := New(map[string]adapter.Manager{})
	_, err := rt.Search(context.Background(), "npm", "lodash")
	require.Error(t, err)
	assert.Equal(t, models.ErrInternal, errs.KindOf(err))
}

func TestUpgrade_VerifiesAndPassesWhenNotOutdated(t *testing.T) {
	mgr := adapter.Manager{
		ID: "mise",
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			return adapter.MutationResponse{Executed: true}, nil
		},
	}
	rt := New(map[string]adapter.Manager{"mise": mgr})
	called := false
	resp, err := rt.Upgrade(context.Background(), "mise", adapter.Request{PackageName: "node"},
		func(ctx context.Context, managerID, packageName string) (bool, string, error) {
			called = true
			return false, "", nil
		})
	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, resp.Verified)
}

func TestUpgrade_IneffectiveUpgradeReturnsProcessFailure(t *testing.T) {
	mgr := adapter.Manager{
		ID: "mise",
		Upgrade: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			return adapter.MutationResponse{Executed: true}, nil
		},
	}
	rt := New(map[string]adapter.Manager{"mise": mgr})
	_, err := rt.Upgrade(context.Background(), "mise", adapter.Request{PackageName: "node"},
		func(ctx context.Context, managerID, packageName string) (bool, string, error) {
			return true, "20.12.0", nil
		})
	require.Error(t, err)
	assert.Equal(t, models.ErrProcessFailure, errs.KindOf(err))
}

func TestInstall_RejectsFlagShapedPackageName(t *testing.T) {
	mgr := adapter.Manager{
		ID: "npm",
		Install: func(ctx context.Context, req adapter.Request) (adapter.MutationResponse, error) {
			t.Fatal("a rejected name must never reach the adapter")
			return adapter.MutationResponse{}, nil
		},
	}
	rt := New(map[string]adapter.Manager{"npm": mgr})
	_, err := rt.Install(context.Background(), "npm", adapter.Request{PackageName: "--evil"})
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidInput, errs.KindOf(err))
}

func TestInstall_RejectsEmptyPackageName(t *testing.T) {
	rt := New(map[string]adapter.Manager{"npm": {ID: "npm"}})
	_, err := rt.Install(context.Background(), "npm", adapter.Request{PackageName: "   "})
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidInput, errs.KindOf(err))
}

func TestUpgrade_RejectsUnsafeVersionString(t *testing.T) {
	rt := New(map[string]adapter.Manager{"npm": {ID: "npm"}})
	_, err := rt.Upgrade(context.Background(), "npm", adapter.Request{PackageName: "lodash", Version: "--tag=evil"}, nil)
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidInput, errs.KindOf(err))
}

func TestListInstalled_NilImplementationIsUnsupported(t *testing.T) {
	rt := New(map[string]adapter.Manager{"npm": {ID: "npm"}})
	_, err := rt.ListInstalled(context.Background(), "npm")
	require.Error(t, err)
	assert.Equal(t, models.ErrUnsupportedCapability, errs.KindOf(err))
}
