package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by point reads of missing rows.
	ErrNotFound = errors.New("not found")
	// ErrWriteTimeout marks a write the coordinator could not confirm in
	// time. Backends wrap their native timeout errors with it.
	ErrWriteTimeout = errors.New("write timeout")
)

// Class tells the writer whether a failed batch is worth retrying.
type Class uint8

const (
	Permanent Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Classifier maps backend errors onto a Class.
type Classifier interface {
	Classify(err error) Class
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(error) Class

func (f ClassifierFunc) Classify(err error) Class { return f(err) }

// DefaultClassifier treats write timeouts and expired deadlines as transient
// and everything else as permanent.
var DefaultClassifier Classifier = ClassifierFunc(func(err error) Class {
	if errors.Is(err, ErrWriteTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
})

// ClassifierFor returns s's own classifier when it has one.
func ClassifierFor(s any) Classifier {
	if c, ok := s.(Classifier); ok {
		return c
	}
	return DefaultClassifier
}
