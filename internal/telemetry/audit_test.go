package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-core/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.messaging", "messaging-core", "test")

	var captured AuditEnvelope
	publisher.On("Publish", mock.Anything, "audit.messaging", mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(AuditEnvelope)
		}).Return(nil).Once()

	actor := "alice"
	emitter.Emit(context.Background(), "INFO", "group conversation created", "req-1", &actor)

	publisher.AssertExpectations(t)
	assert.Equal(t, 1, captured.SchemaVersion)
	assert.Equal(t, "audit_log", captured.EventType)
	assert.Equal(t, "messaging-core", captured.Service)
	assert.Equal(t, "test", captured.Environment)
	assert.Equal(t, "req-1", captured.RequestID)
	require.NotNil(t, captured.ActorID)
	assert.Equal(t, "alice", *captured.ActorID)
	assert.Equal(t, "INFO", captured.Payload.Level)
	assert.NotEmpty(t, captured.OccurredAt)
}

func TestAuditEmitterNilSafe(t *testing.T) {
	var emitter *AuditEmitter
	// Must not panic when audit is not configured.
	emitter.Emit(context.Background(), "INFO", "noop", "req-2", nil)
}
