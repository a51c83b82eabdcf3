package util

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// BloomFilter 是一个固定容量的布隆过滤器，作为可伸缩版本的子过滤器使用。
type BloomFilter struct {
	M         uint           // 位数组大小
	K         uint           // 哈希函数数量
	Bits      *bitset.BitSet // 位数组
	ItemCount uint           // 已添加的元素数量
	Capacity  uint           // 预估容量
}

// NewBloomFilter 按预估容量和期望误报率创建一个过滤器。
func NewBloomFilter(capacity uint, errorRate float64) *BloomFilter {
	m := calculateM(capacity, errorRate)
	k := calculateK(capacity, m)
	return &BloomFilter{
		M:        m,
		K:        k,
		Bits:     bitset.New(m),
		Capacity: capacity,
	}
}

// Add 添加一个元素。
func (bf *BloomFilter) Add(data []byte) {
	for _, h := range bf.hashKernels(data) {
		bf.Bits.Set(uint(h % uint64(bf.M)))
	}
	bf.ItemCount++
}

// Test 报告一个元素是否可能已存在。false 是确定的，true 可能是误报。
func (bf *BloomFilter) Test(data []byte) bool {
	for _, h := range bf.hashKernels(data) {
		if !bf.Bits.Test(uint(h % uint64(bf.M))) {
			return false
		}
	}
	return true
}

func (bf *BloomFilter) isFull() bool {
	return bf.ItemCount >= bf.Capacity
}

// hashKernels 用双哈希法从两个 FNV 哈希派生出 k 个哈希值。
func (bf *BloomFilter) hashKernels(data []byte) []uint64 {
	h1 := fnv.New64a()
	h1.Write(data)
	hash1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(data)
	hash2 := h2.Sum64()

	hashes := make([]uint64, bf.K)
	for i := uint(0); i < bf.K; i++ {
		hashes[i] = hash1 + uint64(i)*hash2
	}
	return hashes
}

// m = - (n * log(p)) / (log(2)^2)
func calculateM(n uint, p float64) uint {
	return uint(math.Ceil(-(float64(n) * math.Log(p)) / (math.Pow(math.Log(2), 2))))
}

// k = (m / n) * log(2)
func calculateK(n uint, m uint) uint {
	k := uint(math.Ceil((float64(m) / float64(n)) * math.Log(2)))
	if k < 1 {
		return 1
	}
	return k
}

// SBFConfig 是可伸缩布隆过滤器的配置。
type SBFConfig struct {
	InitialCapacity      uint    // 第一个子过滤器的容量
	ErrorRate            float64 // 期望的总体误报率，例如 0.01
	GrowthFactor         float64 // 每次扩容的容量倍数
	ErrorTighteningRatio float64 // 新子过滤器误报率的收紧系数，(0,1)
}

// ScalableBloomFilter 在子过滤器写满时追加一个更大、更严格的子过滤器，
// 使总体误报率维持在配置值附近。并发安全。
type ScalableBloomFilter struct {
	config  SBFConfig
	filters []*BloomFilter
	lock    sync.RWMutex
}

// NewScalableBloomFilter 创建一个可伸缩布隆过滤器。
func NewScalableBloomFilter(config SBFConfig) (*ScalableBloomFilter, error) {
	if config.InitialCapacity == 0 || config.ErrorRate <= 0 || config.GrowthFactor < 1 ||
		config.ErrorTighteningRatio <= 0 || config.ErrorTighteningRatio >= 1 {
		return nil, fmt.Errorf("invalid scalable bloom filter config: %+v", config)
	}

	// 第一个子过滤器收紧一档，给后续扩容留出误报率预算。
	firstErrorRate := config.ErrorRate * (1 - config.ErrorTighteningRatio)
	return &ScalableBloomFilter{
		config:  config,
		filters: []*BloomFilter{NewBloomFilter(config.InitialCapacity, firstErrorRate)},
	}, nil
}

// Add 添加一个元素，必要时先扩容。
func (sbf *ScalableBloomFilter) Add(data []byte) {
	sbf.lock.Lock()
	defer sbf.lock.Unlock()

	lastFilter := sbf.filters[len(sbf.filters)-1]
	if lastFilter.isFull() {
		newCapacity := uint(float64(lastFilter.Capacity) * sbf.config.GrowthFactor)

		// 按当前实际误报率乘以收紧系数得到新子过滤器的目标误报率。
		currentP := math.Pow(1-math.Exp(-float64(lastFilter.K*lastFilter.ItemCount)/float64(lastFilter.M)), float64(lastFilter.K))
		newErrorRate := currentP * sbf.config.ErrorTighteningRatio

		newFilter := NewBloomFilter(newCapacity, newErrorRate)
		sbf.filters = append(sbf.filters, newFilter)
		lastFilter = newFilter
	}

	lastFilter.Add(data)
}

// Test 报告一个元素是否可能已存在。新元素总在最新的子过滤器里，所以
// 从新到旧查。
func (sbf *ScalableBloomFilter) Test(data []byte) bool {
	sbf.lock.RLock()
	defer sbf.lock.RUnlock()

	for i := len(sbf.filters) - 1; i >= 0; i-- {
		if sbf.filters[i].Test(data) {
			return true
		}
	}
	return false
}

// Len 返回子过滤器数量。
func (sbf *ScalableBloomFilter) Len() int {
	sbf.lock.RLock()
	defer sbf.lock.RUnlock()
	return len(sbf.filters)
}
