package payment

import "github.com/noah-isme/edufund-checkout/internal/config"

// SelectMethods returns the ordered payment method types eligible for a
// currency. card is always first; klarna is never offered outside usd.
func SelectMethods(currency string, flags config.MethodFlags) []MethodID {
	methods := []MethodID{MethodCard}
	if flags.Link {
		methods = append(methods, MethodLink)
	}
	switch NormaliseCurrency(currency) {
	case CurrencyUSD:
		if flags.Klarna {
			methods = append(methods, MethodKlarna)
		}
		if flags.ACH {
			methods = append(methods, MethodUSBankAccount)
		}
	case CurrencyCAD:
		if flags.ACSS {
			methods = append(methods, MethodACSSDebit)
		}
	}
	return methods
}

// DisplayOrder is the order the payment form lists methods in: wallets
// first, then link, then bank and pay-later methods, card last. Only
// methods present in eligible are kept besides the wallets.
func DisplayOrder(currency string, eligible []MethodID) []string {
	preferred := []string{"google_pay", "apple_pay", string(MethodLink), string(MethodKlarna), string(MethodUSBankAccount), string(MethodCard)}
	if NormaliseCurrency(currency) == CurrencyCAD {
		preferred = []string{"google_pay", "apple_pay", string(MethodLink), string(MethodACSSDebit), string(MethodCard)}
	}
	allowed := make(map[string]bool, len(eligible))
	for _, m := range eligible {
		allowed[string(m)] = true
	}
	out := make([]string, 0, len(preferred))
	for _, m := range preferred {
		if m == "google_pay" || m == "apple_pay" || allowed[m] {
			out = append(out, m)
		}
	}
	return out
}

// WalletCountry is the merchant country used for wallet payment requests.
func WalletCountry(currency string) string {
	if NormaliseCurrency(currency) == CurrencyCAD {
		return "CA"
	}
	return "US"
}

func methodStrings(methods []MethodID) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}
