package session

import (
	"hash/fnv"
	"sync"
)

// shardCount количество шардов, степень 2
const shardCount = 32

type sessionShard struct {
	sessions map[string]Session
	mutex    sync.RWMutex
}

// shardedMap потокобезопасная карта сессий с разбиением по шардам.
// Каждый шард имеет свой мьютекс, операции над разными шардами не блокируют друг друга.
type shardedMap struct {
	shards [shardCount]*sessionShard
}

func newShardedMap() *shardedMap {
	m := &shardedMap{}
	for i := range m.shards {
		m.shards[i] = &sessionShard{sessions: make(map[string]Session)}
	}
	return m
}

func (m *shardedMap) shard(key string) *sessionShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	return m.shards[hasher.Sum32()&(shardCount-1)]
}

// Set добавляет или заменяет сессию
func (m *shardedMap) Set(key string, s Session) {
	shard := m.shard(key)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	shard.sessions[key] = s
}

// Get возвращает сессию по ключу
func (m *shardedMap) Get(key string) (Session, bool) {
	shard := m.shard(key)
	shard.mutex.RLock()
	defer shard.mutex.RUnlock()
	s, ok := shard.sessions[key]
	return s, ok
}

// DeleteIf удаляет запись, только если она указывает на s
func (m *shardedMap) DeleteIf(key string, s Session) bool {
	shard := m.shard(key)
	shard.mutex.Lock()
	defer shard.mutex.Unlock()
	if cur, ok := shard.sessions[key]; ok && cur == s {
		delete(shard.sessions, key)
		return true
	}
	return false
}

// Count возвращает общее количество сессий
func (m *shardedMap) Count() int {
	count := 0
	for i := range m.shards {
		m.shards[i].mutex.RLock()
		count += len(m.shards[i].sessions)
		m.shards[i].mutex.RUnlock()
	}
	return count
}

// ForEach вызывает fn для снимка всех сессий вне блокировок
func (m *shardedMap) ForEach(fn func(key string, s Session)) {
	type entry struct {
		key string
		s   Session
	}
	var all []entry
	for i := range m.shards {
		m.shards[i].mutex.RLock()
		for k, s := range m.shards[i].sessions {
			all = append(all, entry{k, s})
		}
		m.shards[i].mutex.RUnlock()
	}
	for _, e := range all {
		fn(e.key, e.s)
	}
}
