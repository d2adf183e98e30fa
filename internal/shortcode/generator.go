package shortcode

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"
	"time"

	"findout-affiliate/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// Charset 包含用于生成短码的所有字符
	Charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// CodeLength 是生成的短码的长度
	CodeLength = 7
	// ChannelBufferSize 是短码池的容量
	ChannelBufferSize = 1000
	// MinFillThreshold 低于该数量时触发补充
	MinFillThreshold = 100
	// maxAttempts 单个短码的最大冲突重试次数
	maxAttempts = 10
)

var ErrExhausted = errors.New("短码冲突次数过多")

// Generator 预生成在 affiliate_links 表中唯一的短码
type Generator struct {
	db        *gorm.DB
	codeChan  chan string
	mu        sync.Mutex
	isFilling bool
	stopOnce  sync.Once
	stopChan  chan struct{}
	logger    *zap.SugaredLogger
}

// NewGenerator 创建短码生成器，调用 Start 之后才会在后台补充短码池
func NewGenerator(db *gorm.DB, logger *zap.SugaredLogger) *Generator {
	return &Generator{
		db:       db,
		codeChan: make(chan string, ChannelBufferSize),
		stopChan: make(chan struct{}),
		logger:   logger.Named("shortcode_generator"),
	}
}

// Start 启动后台生成和补充任务
func (g *Generator) Start() {
	g.logger.Info("启动短码生成器...")
	go g.fillChannel()
	go g.monitorAndRefill()
}

// Stop 停止短码生成器，可重复调用
func (g *Generator) Stop() {
	g.stopOnce.Do(func() {
		g.logger.Info("正在停止短码生成器...")
		close(g.stopChan)
	})
}

// GetCode 优先从短码池取，池为空时同步生成一个
func (g *Generator) GetCode() (string, error) {
	select {
	case code := <-g.codeChan:
		return code, nil
	default:
	}
	code, err := g.generateUniqueCode()
	if err != nil {
		return "", err
	}
	if code == "" {
		return "", ErrExhausted
	}
	return code, nil
}

// Available 短码池中剩余数量
func (g *Generator) Available() int {
	return len(g.codeChan)
}

// monitorAndRefill 定期检查短码池并补充
func (g *Generator) monitorAndRefill() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if len(g.codeChan) < MinFillThreshold {
				g.fillChannel()
			}
		case <-g.stopChan:
			g.logger.Info("已停止监控和补充任务。")
			return
		}
	}
}

// fillChannel 填满短码池，同一时间只有一个填充任务
func (g *Generator) fillChannel() {
	g.mu.Lock()
	if g.isFilling {
		g.mu.Unlock()
		return
	}
	g.isFilling = true
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.isFilling = false
		g.mu.Unlock()
	}()

	g.logger.Debugf("短码池剩余 %d 个，开始补充...", len(g.codeChan))
	for len(g.codeChan) < ChannelBufferSize {
		select {
		case <-g.stopChan:
			g.logger.Info("填充任务已中断。")
			return
		default:
			code, err := g.generateUniqueCode()
			if err != nil {
				g.logger.Errorf("生成唯一短码时出错: %v", err)
				time.Sleep(100 * time.Millisecond) // 避免出错时空转
				continue
			}
			if code == "" {
				continue
			}
			select {
			case g.codeChan <- code:
			case <-g.stopChan:
				return
			}
		}
	}
	g.logger.Debugf("短码池已填满，现有 %d 个。", len(g.codeChan))
}

// generateUniqueCode 生成在数据库中唯一的短码，多次冲突后返回空串
func (g *Generator) generateUniqueCode() (string, error) {
	for i := 0; i < maxAttempts; i++ {
		code, err := randomString(CodeLength)
		if err != nil {
			return "", err
		}
		if !g.isCodeExist(code) {
			return code, nil
		}
	}
	g.logger.Warnf("已尝试%d次生成短码，但均存在冲突。", maxAttempts)
	return "", nil
}

// randomString 使用加密安全的随机数生成器
func randomString(length int) (string, error) {
	b := make([]byte, length)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(Charset))))
		if err != nil {
			return "", err
		}
		b[i] = Charset[num.Int64()]
	}
	return string(b), nil
}

// isCodeExist 查询失败时保守地认为已存在
func (g *Generator) isCodeExist(code string) bool {
	var count int64
	if err := g.db.Model(&model.AffiliateLink{}).Where("short_code = ?", code).Count(&count).Error; err != nil {
		g.logger.Errorf("查询数据库时出错: %v", err)
		return true
	}
	return count > 0
}
