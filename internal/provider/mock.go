package provider

import (
	"context"
)

// MockAdapter is a mock implementation of Adapter for testing
type MockAdapter struct {
	FetchFunc         func(ctx context.Context, filter Filter) (*FetchResult, error)
	MutateFunc        func(ctx context.Context, messageID string, op Op) error
	SendFunc          func(ctx context.Context, msg *OutgoingMessage) error
	GetAttachmentFunc func(ctx context.Context, messageID, attachmentID string) ([]byte, error)
	LabelsFunc        func(ctx context.Context) ([]Label, error)
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (m *MockAdapter) Fetch(ctx context.Context, filter Filter) (*FetchResult, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, filter)
	}
	return &FetchResult{}, nil
}

func (m *MockAdapter) Mutate(ctx context.Context, messageID string, op Op) error {
	if m.MutateFunc != nil {
		return m.MutateFunc(ctx, messageID, op)
	}
	return nil
}

func (m *MockAdapter) Send(ctx context.Context, msg *OutgoingMessage) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

func (m *MockAdapter) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if m.GetAttachmentFunc != nil {
		return m.GetAttachmentFunc(ctx, messageID, attachmentID)
	}
	return nil, nil
}

func (m *MockAdapter) Labels(ctx context.Context) ([]Label, error) {
	if m.LabelsFunc != nil {
		return m.LabelsFunc(ctx)
	}
	return nil, nil
}
