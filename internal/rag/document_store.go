package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// DocumentStore 进程级文档元数据登记表，gorm 持久化。
// 与 VectorStore 是同一实体集合上的两个独立存储，
// 二者的一致性由摄取/删除路径（Service）维护，存储层不做外键约束。
type DocumentStore struct {
	db *gorm.DB
}

// NewDocumentStore 创建文档登记表并迁移表结构。
func NewDocumentStore(db *gorm.DB) (*DocumentStore, error) {
	if err := db.AutoMigrate(&Document{}); err != nil {
		return nil, fmt.Errorf("迁移文档表失败: %w", err)
	}
	return &DocumentStore{db: db}, nil
}

// Register 登记文档，主键相同（内容哈希相同）时覆盖。
func (s *DocumentStore) Register(ctx context.Context, doc *Document) error {
	if err := s.db.WithContext(ctx).Save(doc).Error; err != nil {
		return fmt.Errorf("登记文档失败: %w", err)
	}
	return nil
}

// Get 按 ID 查询文档，不存在返回 ErrNotFound。
func (s *DocumentStore) Get(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 文档 %s 不存在", ErrNotFound, id)
		}
		return nil, fmt.Errorf("查询文档失败: %w", err)
	}
	return &doc, nil
}

// List 返回全部文档，按上传时间倒序。
func (s *DocumentStore) List(ctx context.Context) ([]*Document, error) {
	var docs []*Document
	if err := s.db.WithContext(ctx).Order("uploaded_at DESC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("查询文档列表失败: %w", err)
	}
	return docs, nil
}

// Delete 删除文档记录，返回是否真正删除了记录。
func (s *DocumentStore) Delete(ctx context.Context, id string) (bool, error) {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Document{})
	if result.Error != nil {
		return false, fmt.Errorf("删除文档失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// keyedMutex 按 key（文档 ID）粒度的互斥锁。
// 同一文档的并发删除/重摄取串行执行，不同文档互不争用。
// 条目按引用计数回收，key 集合不随进程生命周期无限增长。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock 锁定 key，返回对应的解锁函数。
// 解锁时最后一个持有者负责删除条目。
func (m *keyedMutex) Lock(key string) func() {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*keyedLock)
	}
	entry, ok := m.locks[key]
	if !ok {
		entry = &keyedLock{}
		m.locks[key] = entry
	}
	entry.refs++
	m.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()

		m.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}
