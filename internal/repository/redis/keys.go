package redis

import "fmt"

const ns = "seatlock:v1"

func KeySeatState(saleInstanceID int64, seatID string) string {
	return fmt.Sprintf("%s:sale:%d:seat:%s:state", ns, saleInstanceID, seatID)
}

func KeySaleCounts(saleInstanceID int64) string {
	return fmt.Sprintf("%s:sale:%d:counts", ns, saleInstanceID)
}

func KeyRateLimit(scope, id string) string {
	return fmt.Sprintf("%s:rl:%s:%s", ns, scope, id)
}

func KeyIdemLock(saleInstanceID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:locks:%d:%s", ns, saleInstanceID, idemKey)
}

// ChannelSale is the change feed for one sale instance. Every lock mutation
// and sale completion in that instance is published here.
func ChannelSale(saleInstanceID int64) string {
	return fmt.Sprintf("%s:sale:%d:feed", ns, saleInstanceID)
}
