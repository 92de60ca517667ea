package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasoncavinder/helm/internal/models"
)

func TestNewHub(t *testing.T) {
	hub := NewHub(context.Background())
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.broadcast)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

func TestHub_ClientRegistrationAndUnregistration(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()
	defer hub.Stop()

	assert.Equal(t, 0, hub.ClientCount())

	client := &Client{send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_BroadcastTaskUpdate_DeliversToClient(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()
	defer hub.Stop()

	client := &Client{send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, hub.BroadcastTaskUpdate(models.TaskRecord{ID: 7, ManagerID: "npm", Status: models.StatusRunning}))

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"task_update"`)
		assert.Contains(t, string(msg), `"npm"`)
	case <-time.After(time.Second):
		t.Fatal("broadcast never reached client")
	}
}

func TestHub_Stop_ClosesAllClientChannels(t *testing.T) {
	hub := NewHub(context.Background())
	go hub.Run()

	client := &Client{send: make(chan []byte, 256)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()

	_, ok := <-client.send
	assert.False(t, ok)
}
