package domain

import (
	"fmt"
	"strings"
)

// BusinessType selects which expense category table applies to a branch.
type BusinessType string

const (
	// BusinessTypeCoffee uses the C1-C9 category table.
	BusinessTypeCoffee BusinessType = "COFFEE"
	// BusinessTypeRestaurant uses the F1-F7 category table.
	BusinessTypeRestaurant BusinessType = "RESTAURANT"
)

// ParseBusinessType converts a raw string into a BusinessType.
func ParseBusinessType(s string) (BusinessType, error) {
	switch BusinessType(strings.ToUpper(strings.TrimSpace(s))) {
	case BusinessTypeCoffee:
		return BusinessTypeCoffee, nil
	case BusinessTypeRestaurant:
		return BusinessTypeRestaurant, nil
	default:
		return "", fmt.Errorf("unknown business type: %q", s)
	}
}

// Category is a single expense category with its ordered keyword list.
// Keyword order matters: within a category the first declared keyword that
// matches wins, and categories are scanned in table order.
type Category struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
}

// coffeeCategories is the rule table for COFFEE branches. Table order is the
// rule priority order; do not reorder without revisiting the tie-break
// behavior for keywords shared between categories.
var coffeeCategories = []Category{
	{ID: "C1", Name: "COGS (วัตถุดิบ)",
		Keywords: []string{"เมล็ดกาแฟ", "นม", "ไซรัป", "ผงชง", "น้ำแข็ง", "เบเกอรี่", "ผลไม้", "topping"}},
	{ID: "C2", Name: "Labor (ค่าแรง)",
		Keywords: []string{"เงินเดือน", "ot"}},
	{ID: "C3", Name: "Rent & Place (สถานที่)",
		Keywords: []string{"ค่าเช่า", "ส่วนกลาง", "ที่จอดรถ"}},
	{ID: "C4", Name: "Utilities (สาธารณูปโภค)",
		Keywords: []string{"ไฟฟ้า", "ประปา", "เน็ต", "โทรศัพท์", "internet", "wifi"}},
	{ID: "C5", Name: "Equip & Maint (อุปกรณ์)",
		Keywords: []string{"ซ่อม", "อะไหล่", "แก้ว", "หลอด", "ทิชชู่"}},
	{ID: "C6", Name: "System & Sales (ระบบ)",
		Keywords: []string{"pos", "gp delivery", "ค่าธรรมเนียม"}},
	{ID: "C7", Name: "Marketing (การตลาด)",
		Keywords: []string{"ads", "influencer", "ออกแบบ", "ส่วนลด", "โปรโมชั่น"}},
	{ID: "C8", Name: "Admin (ทั่วไป)",
		Keywords: []string{"เครื่องเขียน", "ทำความสะอาด", "ภาษี", "บัญชี"}},
	{ID: "C9", Name: "Reserve (สำรองจ่าย)",
		Keywords: []string{"ฉุกเฉิน", "ของเสีย", "หมดอายุ", "เงินหาย"}},
}

// restaurantCategories is the rule table for RESTAURANT branches.
var restaurantCategories = []Category{
	{ID: "F1", Name: "Main Ingredients (วัตถุดิบหลัก)",
		Keywords: []string{"เนื้อ", "หมู", "ไก่", "ผัก", "ไข่", "ข้าว", "เส้น", "เครื่องปรุง", "กะทิ"}},
	{ID: "F2", Name: "Labor (ค่าแรง)",
		Keywords: []string{"เงินเดือน", "ot"}},
	{ID: "F3", Name: "Fuel (เชื้อเพลิง)",
		Keywords: []string{"แก๊ส", "ถ่าน"}},
	{ID: "F4", Name: "Containers (ภาชนะ)",
		Keywords: []string{"กล่องโฟม", "ถุงแกง", "ช้อนส้อม", "หนังยาง", "ทิชชู่"}},
	{ID: "F5", Name: "Water & Ice (น้ำ)",
		Keywords: []string{"น้ำดื่ม", "น้ำแข็ง", "น้ำอัดลม"}},
	{ID: "F6", Name: "Daily Waste (ของเสีย)",
		Keywords: []string{"อาหารเหลือ", "เน่า", "ตักเกิน", "หก"}},
	{ID: "F7", Name: "Daily Misc (เบ็ดเตล็ด)",
		Keywords: []string{"ค่าเช่ารายวัน", "ที่จอดรถ", "ค่าขยะ", "ทำความสะอาด"}},
}

// CategoriesFor returns the ordered category table for a business type.
// The returned slice is shared reference data and must not be mutated.
func CategoriesFor(bt BusinessType) []Category {
	if bt == BusinessTypeCoffee {
		return coffeeCategories
	}
	return restaurantCategories
}

// CategoryByID looks up a category in the table for the given business type.
func CategoryByID(bt BusinessType, id string) (Category, bool) {
	for _, c := range CategoriesFor(bt) {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// ValidCategory reports whether id belongs to the category set of bt.
func ValidCategory(bt BusinessType, id string) bool {
	_, ok := CategoryByID(bt, id)
	return ok
}
