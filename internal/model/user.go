// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User 对应 users 表。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	IsActive  bool      `gorm:"not null;default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (User) TableName() string {
	return "users"
}
