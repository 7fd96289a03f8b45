// Package mocks holds testify mocks of the port interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/montage/internal/domain"
	"github.com/bnema/montage/internal/port"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

func register(m *mock.Mock, t testingT) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

type UserStoreMock struct{ mock.Mock }

func NewUserStoreMock(t testingT) *UserStoreMock {
	m := &UserStoreMock{}
	register(&m.Mock, t)
	return m
}

func (m *UserStoreMock) HasUser() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *UserStoreMock) GetUser(username string) (*domain.User, error) {
	args := m.Called(username)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *UserStoreMock) GetUserByID(id int64) (*domain.User, error) {
	args := m.Called(id)
	u, _ := args.Get(0).(*domain.User)
	return u, args.Error(1)
}

func (m *UserStoreMock) CreateUser(username, passwordHash string) error {
	return m.Called(username, passwordHash).Error(0)
}

func (m *UserStoreMock) UpdatePassword(id int64, passwordHash string) error {
	return m.Called(id, passwordHash).Error(0)
}

type ProberMock struct{ mock.Mock }

func NewProberMock(t testingT) *ProberMock {
	m := &ProberMock{}
	register(&m.Mock, t)
	return m
}

func (m *ProberMock) Probe(ctx context.Context, path string) (*domain.ProbeResult, error) {
	args := m.Called(ctx, path)
	r, _ := args.Get(0).(*domain.ProbeResult)
	return r, args.Error(1)
}

type TagReaderMock struct{ mock.Mock }

func NewTagReaderMock(t testingT) *TagReaderMock {
	m := &TagReaderMock{}
	register(&m.Mock, t)
	return m
}

func (m *TagReaderMock) ReadTags(path string) (string, string, error) {
	args := m.Called(path)
	return args.String(0), args.String(1), args.Error(2)
}

type JobStoreMock struct{ mock.Mock }

func NewJobStoreMock(t testingT) *JobStoreMock {
	m := &JobStoreMock{}
	register(&m.Mock, t)
	return m
}

func (m *JobStoreMock) Create(rec *domain.JobRecord) error {
	return m.Called(rec).Error(0)
}

func (m *JobStoreMock) MarkRunning(id string) error {
	return m.Called(id).Error(0)
}

func (m *JobStoreMock) Finish(id string, status domain.JobStatus, outputPath string, duration float64, errMsg string) error {
	return m.Called(id, status, outputPath, duration, errMsg).Error(0)
}

func (m *JobStoreMock) Get(id string) (*domain.JobRecord, error) {
	args := m.Called(id)
	r, _ := args.Get(0).(*domain.JobRecord)
	return r, args.Error(1)
}

func (m *JobStoreMock) ListRecent(limit int) ([]*domain.JobRecord, error) {
	args := m.Called(limit)
	r, _ := args.Get(0).([]*domain.JobRecord)
	return r, args.Error(1)
}

func (m *JobStoreMock) ResetStalled() error {
	return m.Called().Error(0)
}

type SourceWatcherMock struct{ mock.Mock }

func NewSourceWatcherMock(t testingT) *SourceWatcherMock {
	m := &SourceWatcherMock{}
	register(&m.Mock, t)
	return m
}

func (m *SourceWatcherMock) Watch(path string) error {
	return m.Called(path).Error(0)
}

func (m *SourceWatcherMock) Unwatch(path string) error {
	return m.Called(path).Error(0)
}

var (
	_ port.UserStore     = (*UserStoreMock)(nil)
	_ port.Prober        = (*ProberMock)(nil)
	_ port.TagReader     = (*TagReaderMock)(nil)
	_ port.JobStore      = (*JobStoreMock)(nil)
	_ port.SourceWatcher = (*SourceWatcherMock)(nil)
)
