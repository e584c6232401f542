package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveAliases(t *testing.T) {
	cases := []struct {
		header []string
		want   Columns
	}{
		{[]string{"maSP", "soLuong"}, Columns{Code: 0, Quantity: 1, UnitPrice: -1, Notes: -1}},
		{[]string{"Ghi Chú", " SKU ", "Qty", "Đơn Giá"}, Columns{Code: 1, Quantity: 2, UnitPrice: 3, Notes: 0}},
		{[]string{"code", "quantity", "unit_price", "notes", "code"}, Columns{Code: 0, Quantity: 1, UnitPrice: 2, Notes: 3}},
		// decomposed "mã sp" (a + combining tilde)
		{[]string{"ma\u0303  sp", "SOLUONGNHAP"}, Columns{Code: 0, Quantity: 1, UnitPrice: -1, Notes: -1}},
	}
	for _, tc := range cases {
		got, err := DefaultAliases.Resolve(tc.header)
		require.NoError(t, err, tc.header)
		require.Equal(t, tc.want, got, tc.header)
	}
}

func TestResolveMissingRequired(t *testing.T) {
	_, err := DefaultAliases.Resolve([]string{"product", "amount"})
	require.ErrorIs(t, err, ErrMissingRequiredColumn)
	require.Contains(t, err.Error(), "code")
	require.Contains(t, err.Error(), "quantity")

	_, err = DefaultAliases.Resolve([]string{"masp", "price"})
	require.ErrorIs(t, err, ErrMissingRequiredColumn)
	require.NotContains(t, err.Error(), "code (")
}

func TestCustomAliases(t *testing.T) {
	aliases := Aliases{RoleCode: {"Artikel"}, RoleQuantity: {"Menge"}}
	got, err := aliases.Resolve([]string{"menge", "ARTIKEL"})
	require.NoError(t, err)
	require.Equal(t, 1, got.Code)
	require.Equal(t, 0, got.Quantity)
}
