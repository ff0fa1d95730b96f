package idgen

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// 64 位 ID：1 位符号 | 41 位毫秒时间戳 | 10 位 worker | 12 位序列号
// 业务单号 = 前缀 + UTC 日期 + ID 的 19 位十进制，整体可按字典序近似排序

const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits

	// 时钟回拨在该范围内时等待追平，超出直接报错
	maxClockDrift = 5 * time.Millisecond
)

var (
	ErrInvalidWorkerID = fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)
	ErrClockMovedBack  = errors.New("系统时钟回拨")
)

// Snowflake 并发安全
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	now       func() int64
}

func New(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Snowflake{
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// Init 初始化进程级生成器，多实例部署时每个实例的 workerID 必须不同
func Init(workerID int64) {
	once.Do(func() {
		g, err := New(workerID)
		if err != nil {
			log.Fatalf("[IDGen] 初始化失败: %v", err)
		}
		defaultGenerator = g
	})
}

// NextID 未初始化时使用 workerID = 1
func NextID() int64 {
	Init(1)
	id, err := defaultGenerator.Generate()
	if err != nil {
		// 回拨超过容忍范围时单号无法保证唯一，宁可让请求失败
		panic(err)
	}
	return id
}

func (s *Snowflake) Generate() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now < s.timestamp {
		if time.Duration(s.timestamp-now)*time.Millisecond > maxClockDrift {
			return 0, fmt.Errorf("%w: %dms", ErrClockMovedBack, s.timestamp-now)
		}
		for now < s.timestamp {
			now = s.now()
		}
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = s.now()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence, nil
}

func generate(prefix string) string {
	return fmt.Sprintf("%s%s%019d", prefix, time.Now().UTC().Format("20060102"), NextID())
}

// GeneratePurchaseNo 购买单号，例如 PUR202401150000123456789012345
func GeneratePurchaseNo() string {
	return generate("PUR")
}

// GenerateEntryNo 积分流水号
func GenerateEntryNo() string {
	return generate("LED")
}

// GenerateReversalNo 冲正单号
func GenerateReversalNo() string {
	return generate("REV")
}
