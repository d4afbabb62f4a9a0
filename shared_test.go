package chronicle_test

import (
	chronicle "github.com/chronicle-io/chronicle"
)

var (
	_ chronicle.Event = TaskCreated{}
	_ chronicle.Event = TaskCompleted{}
)

// Small task domain shared by the package tests.

type TaskCreated struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (e TaskCreated) AggregateID() string { return e.ID }
func (e TaskCreated) EventType() string   { return "TaskCreated" }

type TaskCompleted struct {
	ID string `json:"id"`
}

func (e TaskCompleted) AggregateID() string { return e.ID }
func (e TaskCompleted) EventType() string   { return "TaskCompleted" }

func newTaskRegistry(opts ...chronicle.RegistryOption) *chronicle.Registry {
	r := chronicle.NewRegistry(opts...)
	r.Register(func() chronicle.Event { return TaskCreated{} })
	r.Register(func() chronicle.Event { return TaskCompleted{} })
	return r
}
