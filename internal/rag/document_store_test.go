package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestDocumentStoreRegisterAndGet(t *testing.T) {
	store, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	doc := &Document{
		ID:         "abc123",
		Filename:   "report.pdf",
		Language:   "en",
		ChunkCount: 12,
		PageCount:  4,
		FileSize:   2048,
		UploadedAt: time.Now(),
	}
	require.NoError(t, store.Register(ctx, doc))

	got, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	require.Equal(t, "report.pdf", got.Filename)
	require.Equal(t, "en", got.Language)
	require.Equal(t, 12, got.ChunkCount)
}

func TestDocumentStoreGetNotFound(t *testing.T) {
	store, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestDocumentStoreRegisterUpsert(t *testing.T) {
	store, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	// 相同内容哈希重复上传 → 同一 ID 覆盖登记
	require.NoError(t, store.Register(ctx, &Document{ID: "h1", Filename: "v1.pdf", ChunkCount: 3, UploadedAt: time.Now()}))
	require.NoError(t, store.Register(ctx, &Document{ID: "h1", Filename: "v2.pdf", ChunkCount: 5, UploadedAt: time.Now()}))

	docs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "v2.pdf", docs[0].Filename)
	require.Equal(t, 5, docs[0].ChunkCount)
}

func TestDocumentStoreListOrder(t *testing.T) {
	store, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, store.Register(ctx, &Document{ID: "old", Filename: "old.pdf", UploadedAt: older}))
	require.NoError(t, store.Register(ctx, &Document{ID: "new", Filename: "new.pdf", UploadedAt: newer}))

	docs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "new", docs[0].ID)
	require.Equal(t, "old", docs[1].ID)
}

func TestDocumentStoreDelete(t *testing.T) {
	store, err := NewDocumentStore(newTestDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Register(ctx, &Document{ID: "d1", Filename: "a.pdf", UploadedAt: time.Now()}))

	deleted, err := store.Delete(ctx, "d1")
	require.NoError(t, err)
	require.True(t, deleted)

	deleted, err = store.Delete(ctx, "d1")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	var m keyedMutex

	unlock := m.Lock("doc1")
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		u := m.Lock("doc1")
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("同一 key 的锁不应被并发获取")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("解锁后等待方应能获取锁")
	}
}

func TestKeyedMutexEvictsReleasedEntries(t *testing.T) {
	var m keyedMutex

	// 串行使用大量不同 key 后, 条目表不应残留任何条目
	for i := 0; i < 100; i++ {
		unlock := m.Lock(fmt.Sprintf("doc-%d", i))
		unlock()
	}

	m.mu.Lock()
	require.Empty(t, m.locks)
	m.mu.Unlock()

	// 有等待者时条目保留, 全部释放后才回收
	unlockA := m.Lock("doc-a")
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		u := m.Lock("doc-a")
		u()
	}()

	// 等待第二个持有者排队
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.locks["doc-a"] != nil && m.locks["doc-a"].refs == 2
	}, time.Second, 5*time.Millisecond)

	unlockA()
	<-acquired

	m.mu.Lock()
	require.Empty(t, m.locks)
	m.mu.Unlock()
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	var m keyedMutex

	unlock1 := m.Lock("doc1")
	defer unlock1()

	done := make(chan struct{})
	go func() {
		defer close(done)
		u := m.Lock("doc2")
		u()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("不同 key 不应互相阻塞")
	}
}
