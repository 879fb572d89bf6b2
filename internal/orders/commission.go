package orders

import "github.com/shopspring/decimal"

// CommissionRate is the platform's share of every order price.
var CommissionRate = decimal.New(10, -2)

// Split divides price into the platform commission and the seller's share.
// The commission is rounded half away from zero, so
// commission + sellerAmount == price always holds.
func Split(price int64) (commission, sellerAmount int64) {
	commission = decimal.NewFromInt(price).Mul(CommissionRate).Round(0).IntPart()
	return commission, price - commission
}
