package memory

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"
)

// SupabaseStore backs Provider and Sink with Supabase tables, plus a storage
// bucket for call recordings.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

type SupabaseConfig struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase: create client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *SupabaseStore) LoadProfile(ctx context.Context, callerID string) (Profile, error) {
	var rows []Profile
	_, err := s.client.From("caller_profiles").
		Select("*", "", false).
		Eq("caller_id", callerID).
		ExecuteTo(&rows)
	if err != nil {
		return Profile{}, fmt.Errorf("supabase: load profile: %w", err)
	}
	if len(rows) == 0 {
		return Profile{CallerID: callerID}, nil
	}
	return rows[0], nil
}

func (s *SupabaseStore) PendingReminders(ctx context.Context, callerID string, now time.Time) ([]Reminder, error) {
	var rows []Reminder
	_, err := s.client.From("reminders").
		Select("*", "", false).
		Eq("caller_id", callerID).
		Eq("delivered", "false").
		Lte("due_at", now.UTC().Format(time.RFC3339)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("supabase: pending reminders: %w", err)
	}
	return rows, nil
}

func (s *SupabaseStore) MarkDelivered(ctx context.Context, reminderID string, at time.Time) error {
	patch := map[string]any{
		"delivered":    true,
		"delivered_at": at.UTC().Format(time.RFC3339),
	}
	_, _, err := s.client.From("reminders").
		Update(patch, "", "").
		Eq("id", reminderID).
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: mark delivered: %w", err)
	}
	return nil
}

func (s *SupabaseStore) SaveCallRecord(ctx context.Context, rec CallRecord) error {
	_, _, err := s.client.From("call_records").
		Insert(rec, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("supabase: save call record: %w", err)
	}
	return nil
}

// UploadRecording stores a call recording in the bucket.
func (s *SupabaseStore) UploadRecording(key string, data []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("supabase: upload recording: %w", err)
	}
	return nil
}
