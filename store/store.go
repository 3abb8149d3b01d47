package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrNotFound = storm.ErrNotFound

// Operator is a person allowed to drive the crane through the API.
type Operator struct {
	ID       int    `storm:"increment"` // pk
	Email    string `storm:"unique"`
	Name     string
	Password string
	Admin    bool
}

// SetPassword stores the bcrypt hash of pass.
func (o *Operator) SetPassword(pass []byte) error {
	hash, err := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	o.Password = string(hash)
	return nil
}

// VerifyPassword returns the bcrypt error unchanged so callers can tell a
// mismatch from a broken hash.
func (o *Operator) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(o.Password), pass)
}

// CommandRecord is one frame submitted to the crane.
type CommandRecord struct {
	ID          string    `storm:"id"`
	SessionID   string    `storm:"index"`
	Operator    string    `json:",omitempty"`
	Frame       string
	SubmittedAt time.Time
}

// Store keeps operators and the command log in a bolt file.
type Store struct {
	db *storm.DB
}

// Open creates the file and its directory as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := storm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// call inits for each type
	for _, v := range []interface{}{&Operator{}, &CommandRecord{}} {
		if err := db.Init(v); err != nil {
			db.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveOperator(o *Operator) error {
	return s.db.Save(o)
}

func (s *Store) OperatorByEmail(email string) (*Operator, error) {
	var o Operator
	if err := s.db.One("Email", email, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// RecordCommand appends a frame to the command log.
func (s *Store) RecordCommand(sessionID uuid.UUID, operator, frame string) (*CommandRecord, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	rec := &CommandRecord{
		ID:          id.String(),
		SessionID:   sessionID.String(),
		Operator:    operator,
		Frame:       frame,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.db.Save(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecentCommands returns up to n records, newest first.
func (s *Store) RecentCommands(n int) ([]CommandRecord, error) {
	records := []CommandRecord{}
	if n <= 0 {
		return records, nil
	}

	// ids are version 7 uuids, so key order is submission order
	err := s.db.All(&records, storm.Reverse(), storm.Limit(n))
	if errors.Is(err, storm.ErrNotFound) {
		return records, nil
	}
	return records, err
}
