package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// MemoryStoreTestSuite 内存存储测试套件
type MemoryStoreTestSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func (suite *MemoryStoreTestSuite) SetupTest() {
	suite.store = NewMemoryStore()
	suite.ctx = context.Background()
}

func (suite *MemoryStoreTestSuite) TearDownTest() {
	suite.store.Close()
}

type testRecord struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// TestSetGet 测试写入和读取
func (suite *MemoryStoreTestSuite) TestSetGet() {
	err := suite.store.Set(suite.ctx, "room:ABC234", &testRecord{Name: "Alice", Score: 350}, 0)
	suite.NoError(err)

	var got testRecord
	err = suite.store.Get(suite.ctx, "room:ABC234", &got)
	suite.NoError(err)
	suite.Equal("Alice", got.Name)
	suite.Equal(350, got.Score)
}

// TestGetMissing 测试读取不存在的记录
func (suite *MemoryStoreTestSuite) TestGetMissing() {
	var got testRecord
	err := suite.store.Get(suite.ctx, "room:MISSING", &got)
	suite.ErrorIs(err, ErrKeyNotFound)
}

// TestTTLExpiry 测试TTL过期
func (suite *MemoryStoreTestSuite) TestTTLExpiry() {
	err := suite.store.Set(suite.ctx, "session:s1", &testRecord{Name: "Bob"}, 30*time.Millisecond)
	suite.NoError(err)

	var got testRecord
	suite.NoError(suite.store.Get(suite.ctx, "session:s1", &got))

	time.Sleep(50 * time.Millisecond)
	err = suite.store.Get(suite.ctx, "session:s1", &got)
	suite.ErrorIs(err, ErrKeyNotFound)

	exists, err := suite.store.Exists(suite.ctx, "session:s1")
	suite.NoError(err)
	suite.False(exists)
}

// TestDelete 测试删除
func (suite *MemoryStoreTestSuite) TestDelete() {
	suite.NoError(suite.store.Set(suite.ctx, "k", "v", 0))
	suite.NoError(suite.store.Delete(suite.ctx, "k"))

	exists, err := suite.store.Exists(suite.ctx, "k")
	suite.NoError(err)
	suite.False(exists)

	// 删除不存在的key不报错
	suite.NoError(suite.store.Delete(suite.ctx, "k"))
}

// TestExpire 测试重置TTL
func (suite *MemoryStoreTestSuite) TestExpire() {
	suite.NoError(suite.store.Set(suite.ctx, "k", "v", 30*time.Millisecond))
	suite.NoError(suite.store.Expire(suite.ctx, "k", time.Hour))

	time.Sleep(50 * time.Millisecond)
	var got string
	suite.NoError(suite.store.Get(suite.ctx, "k", &got))

	suite.ErrorIs(suite.store.Expire(suite.ctx, "missing", time.Hour), ErrKeyNotFound)
}

// TestOverwrite 测试整条覆盖写入
func (suite *MemoryStoreTestSuite) TestOverwrite() {
	suite.NoError(suite.store.Set(suite.ctx, "k", &testRecord{Name: "v1", Score: 1}, 0))
	suite.NoError(suite.store.Set(suite.ctx, "k", &testRecord{Name: "v2", Score: 2}, 0))

	var got testRecord
	suite.NoError(suite.store.Get(suite.ctx, "k", &got))
	suite.Equal("v2", got.Name)
	suite.Equal(2, got.Score)
}

// TestUpdateFields 测试顶层字段合并
func (suite *MemoryStoreTestSuite) TestUpdateFields() {
	suite.NoError(suite.store.Set(suite.ctx, "k", &testRecord{Name: "Alice", Score: 100}, 0))

	err := suite.store.UpdateFields(suite.ctx, "k", map[string]interface{}{"score": 350}, 0)
	suite.NoError(err)

	// 未提及的字段保留
	var got testRecord
	suite.NoError(suite.store.Get(suite.ctx, "k", &got))
	suite.Equal("Alice", got.Name)
	suite.Equal(350, got.Score)

	suite.ErrorIs(
		suite.store.UpdateFields(suite.ctx, "missing", map[string]interface{}{"score": 1}, 0),
		ErrKeyNotFound,
	)
}

// TestUpdateFieldsRenewsTTL 测试字段合并同时续期
func (suite *MemoryStoreTestSuite) TestUpdateFieldsRenewsTTL() {
	suite.NoError(suite.store.Set(suite.ctx, "k", &testRecord{Name: "Bob"}, 30*time.Millisecond))
	suite.NoError(suite.store.UpdateFields(suite.ctx, "k", map[string]interface{}{"score": 5}, time.Hour))

	time.Sleep(50 * time.Millisecond)
	var got testRecord
	suite.NoError(suite.store.Get(suite.ctx, "k", &got))
	suite.Equal(5, got.Score)
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

// IdentityMapTestSuite 身份映射测试套件
type IdentityMapTestSuite struct {
	suite.Suite
	store *MemoryStore
	ids   *IdentityMap
	ctx   context.Context
}

func (suite *IdentityMapTestSuite) SetupTest() {
	suite.store = NewMemoryStore()
	suite.ids = NewIdentityMap(suite.store, time.Hour)
	suite.ctx = context.Background()
}

func (suite *IdentityMapTestSuite) TearDownTest() {
	suite.store.Close()
}

// TestRegisterLookup 测试注册与双向查询
func (suite *IdentityMapTestSuite) TestRegisterLookup() {
	suite.NoError(suite.ids.Register(suite.ctx, "conn-1", "user-a"))

	userID, ok := suite.ids.UserByConn(suite.ctx, "conn-1")
	suite.True(ok)
	suite.Equal("user-a", userID)

	connID, ok := suite.ids.ConnByUser(suite.ctx, "user-a")
	suite.True(ok)
	suite.Equal("conn-1", connID)
}

// TestReconnectReplacesConn 测试重连后映射指向新连接
func (suite *IdentityMapTestSuite) TestReconnectReplacesConn() {
	suite.NoError(suite.ids.Register(suite.ctx, "conn-1", "user-a"))
	suite.NoError(suite.ids.Register(suite.ctx, "conn-2", "user-a"))

	connID, ok := suite.ids.ConnByUser(suite.ctx, "user-a")
	suite.True(ok)
	suite.Equal("conn-2", connID)

	// 旧连接注销不应影响新映射
	suite.NoError(suite.ids.Unregister(suite.ctx, "conn-1"))
	connID, ok = suite.ids.ConnByUser(suite.ctx, "user-a")
	suite.True(ok)
	suite.Equal("conn-2", connID)
}

// TestUnregister 测试注销删除双向映射
func (suite *IdentityMapTestSuite) TestUnregister() {
	suite.NoError(suite.ids.Register(suite.ctx, "conn-1", "user-a"))
	suite.NoError(suite.ids.Unregister(suite.ctx, "conn-1"))

	_, ok := suite.ids.UserByConn(suite.ctx, "conn-1")
	suite.False(ok)
	_, ok = suite.ids.ConnByUser(suite.ctx, "user-a")
	suite.False(ok)

	// 重复注销不报错
	suite.NoError(suite.ids.Unregister(suite.ctx, "conn-1"))
}

func TestIdentityMapTestSuite(t *testing.T) {
	suite.Run(t, new(IdentityMapTestSuite))
}
