package payment_test

import (
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/edufund-checkout/internal/config"
	"github.com/noah-isme/edufund-checkout/internal/payment"
)

func allFlags() []config.MethodFlags {
	var out []config.MethodFlags
	for i := 0; i < 16; i++ {
		out = append(out, config.MethodFlags{
			Link:   i&1 != 0,
			Klarna: i&2 != 0,
			ACH:    i&4 != 0,
			ACSS:   i&8 != 0,
		})
	}
	return out
}

func TestSelectMethodsUSDAllEnabled(t *testing.T) {
	flags := config.MethodFlags{Link: true, Klarna: true, ACH: true, ACSS: true}
	got := payment.SelectMethods("usd", flags)
	require.Equal(t, []payment.MethodID{
		payment.MethodCard, payment.MethodLink, payment.MethodKlarna, payment.MethodUSBankAccount,
	}, got)
}

func TestSelectMethodsCADAllEnabled(t *testing.T) {
	flags := config.MethodFlags{Link: true, Klarna: true, ACH: true, ACSS: true}
	got := payment.SelectMethods("CAD", flags)
	require.Equal(t, []payment.MethodID{payment.MethodCard, payment.MethodLink, payment.MethodACSSDebit}, got)
}

func TestSelectMethodsDefaultsToUSD(t *testing.T) {
	got := payment.SelectMethods("", config.MethodFlags{Klarna: true})
	require.Equal(t, []payment.MethodID{payment.MethodCard, payment.MethodKlarna}, got)
}

func TestSelectMethodsOtherCurrencyOnlyCardAndLink(t *testing.T) {
	flags := config.MethodFlags{Link: true, Klarna: true, ACH: true, ACSS: true}
	require.Equal(t, []payment.MethodID{payment.MethodCard, payment.MethodLink}, payment.SelectMethods("eur", flags))
}

func TestSelectMethodsProperties(t *testing.T) {
	faker := gofakeit.New(2024)
	currencies := []string{"usd", "cad", "USD", " cad "}
	for i := 0; i < 50; i++ {
		currencies = append(currencies, strings.ToLower(faker.CurrencyShort()))
	}

	for _, currency := range currencies {
		for _, flags := range allFlags() {
			got := payment.SelectMethods(currency, flags)
			require.NotEmpty(t, got)
			require.Equal(t, payment.MethodCard, got[0], "card first for %q %+v", currency, flags)

			seen := map[payment.MethodID]bool{}
			for _, m := range got {
				require.False(t, seen[m], "duplicate %s", m)
				seen[m] = true
			}
			norm := payment.NormaliseCurrency(currency)
			if norm != payment.CurrencyUSD {
				require.False(t, seen[payment.MethodKlarna], "klarna offered for %q", currency)
				require.False(t, seen[payment.MethodUSBankAccount], "ach offered for %q", currency)
			}
			if norm != payment.CurrencyCAD {
				require.False(t, seen[payment.MethodACSSDebit], "acss offered for %q", currency)
			}
			require.Equal(t, flags.Link, seen[payment.MethodLink])
		}
	}
}

func TestDisplayOrderWalletsFirstCardLast(t *testing.T) {
	flags := config.MethodFlags{Link: true, Klarna: true, ACH: true}
	usd := payment.DisplayOrder("usd", payment.SelectMethods("usd", flags))
	require.Equal(t, []string{"google_pay", "apple_pay", "link", "klarna", "us_bank_account", "card"}, usd)

	cad := payment.DisplayOrder("cad", payment.SelectMethods("cad", config.MethodFlags{ACSS: true}))
	require.Equal(t, []string{"google_pay", "apple_pay", "acss_debit", "card"}, cad)
}

func TestWalletCountry(t *testing.T) {
	require.Equal(t, "CA", payment.WalletCountry("cad"))
	require.Equal(t, "US", payment.WalletCountry("usd"))
	require.Equal(t, "US", payment.WalletCountry(""))
}
