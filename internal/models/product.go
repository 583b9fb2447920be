package models

type Product struct {
	BaseModel
	Name        string `json:"name" gorm:"type:varchar(255);not null"`
	Slug        string `json:"slug" gorm:"type:varchar(255);uniqueIndex;not null"`
	Description string `json:"description" gorm:"type:text"`
	PriceCents  int64  `json:"priceCents" gorm:"not null"`
	Currency    string `json:"currency" gorm:"type:varchar(3);not null;default:'USD'"`
	Stock       int    `json:"stock" gorm:"not null;default:0"`
	Active      bool   `json:"active" gorm:"not null;default:true"`
}
