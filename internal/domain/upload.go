package domain

import "fmt"

// UploadState is the lifecycle state of an UploadSession
type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadSending   UploadState = "sending"
	UploadCompleted UploadState = "completed"
	UploadFailed    UploadState = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s UploadState) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// UploadSession tracks one file push over the serial link
type UploadSession struct {
	TargetPath   string      `json:"target_path" yaml:"target_path"`
	DeclaredSize int         `json:"declared_size" yaml:"declared_size"`
	ChunkSize    int         `json:"chunk_size" yaml:"chunk_size"`
	BytesSent    int         `json:"bytes_sent" yaml:"bytes_sent"`
	ChunkIndex   int         `json:"chunk_index" yaml:"chunk_index"`
	State        UploadState `json:"state" yaml:"state"`
	Error        string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewUploadSession creates an idle session
func NewUploadSession(target string, size, chunkSize int) *UploadSession {
	return &UploadSession{
		TargetPath:   target,
		DeclaredSize: size,
		ChunkSize:    chunkSize,
		State:        UploadIdle,
	}
}

// ChunkCount returns ceil(DeclaredSize / ChunkSize)
func (s *UploadSession) ChunkCount() int {
	if s.ChunkSize <= 0 || s.DeclaredSize <= 0 {
		return 0
	}
	return (s.DeclaredSize + s.ChunkSize - 1) / s.ChunkSize
}

// Begin moves the session from Idle to Sending
func (s *UploadSession) Begin() error {
	if s.State != UploadIdle {
		return fmt.Errorf("begin upload in state %s: %w", s.State, ErrSessionTerminal)
	}
	s.State = UploadSending
	return nil
}

// Advance records a chunk of n bytes as written
func (s *UploadSession) Advance(n int) error {
	if s.State != UploadSending {
		return fmt.Errorf("advance upload in state %s", s.State)
	}
	if n < 0 || s.BytesSent+n > s.DeclaredSize {
		return fmt.Errorf("chunk of %d bytes overflows declared size %d", n, s.DeclaredSize)
	}
	s.BytesSent += n
	s.ChunkIndex++
	return nil
}

// Complete marks the session Completed
func (s *UploadSession) Complete() error {
	if s.State.IsTerminal() {
		return ErrSessionTerminal
	}
	if s.BytesSent != s.DeclaredSize {
		return fmt.Errorf("complete upload with %d of %d bytes sent", s.BytesSent, s.DeclaredSize)
	}
	s.State = UploadCompleted
	return nil
}

// Fail marks the session Failed
func (s *UploadSession) Fail(cause error) error {
	if s.State.IsTerminal() {
		return ErrSessionTerminal
	}
	s.State = UploadFailed
	if cause != nil {
		s.Error = cause.Error()
	}
	return nil
}
