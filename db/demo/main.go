package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/cache"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
	_ "github.com/lightningkite/service-abstractions-sub003/db/sqldb"
)

// Config 演示配置
type Config struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// User 演示模型
type User struct {
	ID    string  `bson:"_id"`
	Name  string  `bson:"name"`
	Email string  `bson:"email"`
	Score float64 `bson:"score"`
	Tags  []any   `bson:"tags"`
}

func userClass() *schema.Class {
	return &schema.Class{
		Name: "User",
		Fields: []schema.Field{
			{Name: "_id", Node: &schema.Primitive{Kind: schema.KindUUID}, Annotations: []string{"primary"}},
			{Name: "name", Node: &schema.Primitive{Kind: schema.KindString}, Annotations: []string{"index"}},
			{Name: "email", Node: &schema.Primitive{Kind: schema.KindString}, Annotations: []string{"unique"}},
			{Name: "score", Node: &schema.Primitive{Kind: schema.KindDouble}},
			{Name: "tags", Node: &schema.List{Inner: &schema.Primitive{Kind: schema.KindString}}},
		},
	}
}

func main() {
	config := &Config{
		URL:   "sqlite://demo.db?embedded=true",
		Table: "users",
	}
	if len(os.Args) > 1 {
		raw, err := os.ReadFile(os.Args[1])
		if err != nil {
			fmt.Printf("读取配置失败: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			fmt.Printf("解析配置失败: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	database, err := db.Open(ctx, config.URL)
	if err != nil {
		fmt.Printf("打开数据库失败: %v\n", err)
		os.Exit(1)
	}
	defer database.Disconnect(ctx)

	raw, err := database.Table(config.Table, userClass())
	if err != nil {
		fmt.Printf("创建表失败: %v\n", err)
		os.Exit(1)
	}
	users := db.TableOf[User](config.Table, raw)

	fmt.Println("=== 示例1: 插入与查询 ===")
	demoInsertFind(ctx, users)

	fmt.Println("\n=== 示例2: 原子更新 ===")
	demoUpdate(ctx, users)

	fmt.Println("\n=== 示例3: 聚合 ===")
	demoAggregate(ctx, users)

	fmt.Println("\n=== 示例4: 读穿缓存 ===")
	demoCache(ctx, users, config.Table)

	fmt.Println("\n=== 示例5: 健康检查 ===")
	status, _ := database.HealthCheck(ctx)
	fmt.Printf("健康等级: %s (%s)\n", status.Level, status.Message)
}

func demoInsertFind(ctx context.Context, users *db.Table[User]) {
	inserted, err := users.Insert(ctx, []User{
		{ID: uuid.NewString(), Name: "alice", Email: "alice@example.com", Score: 92.5, Tags: []any{"admin"}},
		{ID: uuid.NewString(), Name: "bob", Email: "bob@example.com", Score: 67.0, Tags: []any{"guest"}},
	})
	if err != nil {
		fmt.Printf("插入失败: %v\n", err)
		return
	}
	fmt.Printf("插入 %d 条\n", len(inserted))

	for user, err := range users.Find(ctx,
		condition.Compare(schema.NewPath("score"), condition.OpGte, 60.0),
		db.WithOrderBy(db.Desc(schema.NewPath("score"))),
	) {
		if err != nil {
			fmt.Printf("查询失败: %v\n", err)
			return
		}
		fmt.Printf("  %s score=%.1f\n", user.Name, user.Score)
	}
}

func demoUpdate(ctx context.Context, users *db.Table[User]) {
	change, err := users.UpdateOne(ctx,
		condition.Equals(schema.NewPath("name"), "alice"),
		modification.Increment(schema.NewPath("score"), 5),
	)
	if err != nil {
		fmt.Printf("更新失败: %v\n", err)
		return
	}
	if change.After != nil {
		fmt.Printf("alice score %.1f -> %.1f\n", change.Before.Score, change.After.Score)
	}
}

func demoAggregate(ctx context.Context, users *db.Table[User]) {
	avg, err := users.Aggregate(ctx, db.AggregateAvg, condition.Always(), schema.NewPath("score"))
	if err != nil {
		fmt.Printf("聚合失败: %v\n", err)
		return
	}
	if avg != nil {
		fmt.Printf("平均分: %.2f\n", *avg)
	}
}

func demoCache(ctx context.Context, users *db.Table[User], table string) {
	store, err := cache.NewFreeCacheStoreWithOptions(&cache.FreeCacheStoreOptions{
		Size:       32 * 1024 * 1024,
		DefaultTTL: 5 * time.Minute,
	})
	if err != nil {
		fmt.Printf("创建缓存失败: %v\n", err)
		return
	}
	cached := cache.NewCached(table, users, "name", store, time.Minute)

	for i := 0; i < 2; i++ {
		user, err := cached.Get(ctx, "alice")
		if err != nil {
			fmt.Printf("缓存读取失败: %v\n", err)
			return
		}
		if user != nil {
			fmt.Printf("第 %d 次读取: %s score=%.1f\n", i+1, user.Name, user.Score)
		}
	}
}
