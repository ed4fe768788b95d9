package erp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// SuiteQL row types
// ---------------------------------------------------------------------------

// flexString accepts SuiteQL values that arrive as strings, numbers or null
type flexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

func (s flexString) String() string { return strings.TrimSpace(string(s)) }

// netSuiteItem is a row of the item query
type netSuiteItem struct {
	ID               flexString `json:"id"`
	ItemID           flexString `json:"itemid"`
	DisplayName      flexString `json:"displayname"`
	Description      flexString `json:"description"`
	IsInactive       flexString `json:"isinactive"`
	VendorName       flexString `json:"vendorname"`
	BasePrice        flexString `json:"baseprice"`
	LastModifiedDate flexString `json:"lastmodifieddate"`
}

// netSuiteInventory is a row of the inventory item location query
type netSuiteInventory struct {
	Item             flexString `json:"item"`
	Location         flexString `json:"location"`
	ItemID           flexString `json:"itemid"`
	QuantityAvail    flexString `json:"quantityavailable"`
	LastModifiedDate flexString `json:"lastmodifieddate"`
}

// netSuitePrice is a row of the pricing query
type netSuitePrice struct {
	Item             flexString `json:"item"`
	ItemID           flexString `json:"itemid"`
	UnitPrice        flexString `json:"unitprice"`
	LastModifiedDate flexString `json:"lastmodifieddate"`
}

// netSuiteTimeLayouts are the timestamp formats SuiteQL and SuiteScript emit
var netSuiteTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"1/2/2006",
}

// parseNetSuiteTime parses a timestamp in any known layout; empty is zero
func parseNetSuiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range netSuiteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
