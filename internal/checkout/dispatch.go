package checkout

import "net/url"

var confirmationPages = map[Method]string{
	MethodInstantEFT: "/payment/eft",
	MethodCOD:        "/payment/cod",
	MethodPayFast:    "/payment/payfast",
}

// ConfirmationPath is where the buyer goes after a successful checkout.
// Unknown methods return "".
func ConfirmationPath(m Method, orderID, paymentID string) string {
	page, ok := confirmationPages[m]
	if !ok {
		return ""
	}
	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("payment_id", paymentID)
	return page + "?" + q.Encode()
}
