package storage

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Receipt journals one receipt issuance attempt, successful or not.
// Failed issuances stay visible here for manual follow-up; the pipeline
// itself never retries them.
type Receipt struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	EventID     string    `json:"event_id"`
	PaymentHash string    `gorm:"index" json:"payment_hash"`
	PostID      string    `json:"post_id"`
	Tipper      string    `json:"tipper"`
	Receiver    string    `json:"receiver"`
	AmountSat   int64     `json:"amount_sat"`
	Published   bool      `json:"published"`
	Outcome     string    `json:"outcome"`
	CreatedAt   time.Time `json:"created_at"`
}

type ReceiptJournal struct {
	db *gorm.DB
}

func NewReceiptJournal(path string) (*ReceiptJournal, error) {
	orm, err := gorm.Open(sqlite.Open(path), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		return nil, err
	}
	if err := orm.AutoMigrate(&Receipt{}); err != nil {
		return nil, err
	}
	return &ReceiptJournal{db: orm}, nil
}

func (j *ReceiptJournal) Record(r *Receipt) error {
	return j.db.Create(r).Error
}

func (j *ReceiptJournal) Recent(limit int) ([]Receipt, error) {
	var receipts []Receipt
	tx := j.db.Order("created_at desc").Limit(limit).Find(&receipts)
	return receipts, tx.Error
}

// TotalSats sums the published receipts.
func (j *ReceiptJournal) TotalSats() (int64, error) {
	var total int64
	tx := j.db.Model(&Receipt{}).Where("published = ?", true).Select("coalesce(sum(amount_sat), 0)").Scan(&total)
	return total, tx.Error
}
