package bootstrap

import (
	"context"
	"testing"

	"github.com/Domenick1991/autoservice/config"
	"github.com/Domenick1991/autoservice/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_MemoryDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverMemory
	cfg.Database.Vehicles = []config.VehicleSeed{{ID: 7, CustomerID: 42, Plate: "B-AS 123"}}

	deps, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer deps.Close()

	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.Producer)
	assert.Empty(t, deps.Checks)

	owned, err := deps.Vehicles.IsOwnedBy(context.Background(), 7, 42)
	require.NoError(t, err)
	assert.True(t, owned)

	_, ok := deps.Journal(10).(*notify.MemoryJournal)
	assert.True(t, ok)

	hub := notify.NewHub(1, nil)
	assert.Same(t, hub, deps.Publisher(hub))
}

func TestOpen_KafkaConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = config.DriverMemory
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Kafka.NotificationsTopic = "appointment-notifications"

	deps, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer deps.Close()

	require.NotNil(t, deps.Producer)
	assert.Same(t, deps.Producer, deps.Publisher(notify.NewHub(1, nil)))
	require.Len(t, deps.Checks, 1)
	assert.Equal(t, "kafka", deps.Checks[0].Name)
}
