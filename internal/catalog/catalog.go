package catalog

import (
	"errors"
	"sort"

	"playdrive/internal/model"

	"github.com/shopspring/decimal"
)

const (
	CategoryDisplay = "display"
	CategoryComment = "comment"
	CategoryContent = "content"
)

var ErrItemNotFound = errors.New("商品不存在")

// Item 商城商品，价格以内容代币计
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Preview     string          `json:"preview,omitempty"`
	Consumable  bool            `json:"consumable"` // 一次性消耗品，购买记录不处于有效状态
}

// Subscription 订阅类商品同一时间只能有一条有效记录
func (i Item) Subscription() bool {
	return i.ID == model.PremiumSubscriptionItemID
}

// Catalog 只读商品目录，价格的唯一来源
type Catalog struct {
	items []Item
	byID  map[string]Item
}

func New(items []Item) *Catalog {
	c := &Catalog{
		items: make([]Item, len(items)),
		byID:  make(map[string]Item, len(items)),
	}
	copy(c.items, items)
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].Price.LessThan(c.items[j].Price)
	})
	for _, it := range c.items {
		c.byID[it.ID] = it
	}
	return c
}

func (c *Catalog) Get(itemID string) (Item, error) {
	it, ok := c.byID[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

// Items 全部商品，按价格升序
func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// ByCategory 按分类过滤，category 为空时返回全部
func (c *Catalog) ByCategory(category string) []Item {
	if category == "" {
		return c.Items()
	}
	out := make([]Item, 0)
	for _, it := range c.items {
		if it.Category == category {
			out = append(out, it)
		}
	}
	return out
}

var defaultItems = []Item{
	{
		ID:          "golden-username",
		Name:        "Golden Username",
		Description: "Show your username in gold across the app.",
		Price:       decimal.NewFromInt(1000),
		Category:    CategoryDisplay,
		Preview:     "#FFD700",
	},
	{
		ID:          "rainbow-username",
		Name:        "Rainbow Username",
		Description: "A username that cycles through the rainbow.",
		Price:       decimal.NewFromInt(2500),
		Category:    CategoryDisplay,
		Preview:     "#FF4FD8",
	},
	{
		ID:          "glowing-username",
		Name:        "Glowing Username",
		Description: "A soft glow around your username.",
		Price:       decimal.NewFromInt(8000),
		Category:    CategoryDisplay,
		Preview:     "#7DF9FF",
	},
	{
		ID:          "highlighted-comment",
		Name:        "Highlighted Comments",
		Description: "Your comments stand out with a highlighted background.",
		Price:       decimal.NewFromInt(500),
		Category:    CategoryComment,
	},
	{
		ID:          "pinned-comment",
		Name:        "Pinned Comment",
		Description: "Pin one comment to the top of a video.",
		Price:       decimal.NewFromInt(1500),
		Category:    CategoryComment,
		Consumable:  true,
	},
	{
		ID:          "boost-post",
		Name:        "Post Boost",
		Description: "Feature one of your posts on Discover for a day.",
		Price:       decimal.NewFromInt(2000),
		Category:    CategoryContent,
		Consumable:  true,
	},
	{
		ID:          model.PremiumSubscriptionItemID,
		Name:        "Premium",
		Description: "Unlimited daily posts.",
		Price:       decimal.NewFromInt(10000),
		Category:    CategoryContent,
	},
}

// Default 内置商品目录
func Default() *Catalog {
	return New(defaultItems)
}
