package pms

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
)

// pmsTimeLayout is the timestamp format the PMS returns (no zone, UTC)
const pmsTimeLayout = "2006-01-02 15:04:05"

// Booking is one reservation record as the PMS reports it
type Booking struct {
	ExternalID string `json:"ref"`
	UnitID     string `json:"unit_ref"`
	GuestName  string `json:"guest_name"`
	CheckIn    string `json:"checkin"`
	CheckOut   string `json:"checkout"`
	State      string `json:"state"`
	WriteDate  string `json:"write_date"`
}

// CheckInTime parses the PMS check-in timestamp
func (b *Booking) CheckInTime() (time.Time, error) {
	return time.ParseInLocation(pmsTimeLayout, b.CheckIn, time.UTC)
}

// CheckOutTime parses the PMS check-out timestamp
func (b *Booking) CheckOutTime() (time.Time, error) {
	return time.ParseInLocation(pmsTimeLayout, b.CheckOut, time.UTC)
}

// WriteTime parses the PMS modification timestamp
func (b *Booking) WriteTime() (time.Time, error) {
	return time.ParseInLocation(pmsTimeLayout, b.WriteDate, time.UTC)
}

// Cancelled reports whether the PMS considers this reservation cancelled
func (b *Booking) Cancelled() bool {
	return b.State == "cancel" || b.State == "cancelled"
}

// Client talks XML-RPC to the property management system
type Client struct {
	URL        string
	Database   string
	Username   string
	Password   string
	Uid        int
	CommonURL  string
	ObjectURL  string
	HttpClient *http.Client
}

// NewClient creates a PMS client
func NewClient(url, db, username, password string) *Client {
	return &Client{
		URL:        url,
		Database:   db,
		Username:   username,
		Password:   password,
		CommonURL:  fmt.Sprintf("%s/xmlrpc/2/common", url),
		ObjectURL:  fmt.Sprintf("%s/xmlrpc/2/object", url),
		HttpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Authenticate authenticates with the PMS and caches the user ID
func (c *Client) Authenticate() (int, error) {
	client, err := xmlrpc.NewClient(c.CommonURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{c.Database, c.Username, c.Password, make([]interface{}, 0)}
	var uid int
	if err := client.Call("authenticate", args, &uid); err != nil {
		return 0, fmt.Errorf("authentication failed: %w", err)
	}

	c.Uid = uid
	return uid, nil
}

// SearchRead performs a generic search_read operation against a PMS
// model. result must be a pointer to a slice of structs with json tags;
// the raw maps are remarshaled through JSON into it.
func (c *Client) SearchRead(model string, domain []interface{}, fields []string, limit, offset int, result interface{}) error {
	client, err := xmlrpc.NewClient(c.ObjectURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create XML-RPC client: %w", err)
	}
	defer client.Close()

	args := []interface{}{
		c.Database,
		c.Uid,
		c.Password,
		model,
		"search_read",
		[]interface{}{domain},
		map[string]interface{}{
			"fields": fields,
			"limit":  limit,
			"offset": offset,
		},
	}

	var rawResult []map[string]interface{}
	if err := client.Call("execute_kw", args, &rawResult); err != nil {
		return fmt.Errorf("failed to execute search_read: %w", err)
	}

	jsonData, err := json.Marshal(rawResult)
	if err != nil {
		return fmt.Errorf("failed to marshal raw result: %w", err)
	}

	if err := json.Unmarshal(jsonData, result); err != nil {
		return fmt.Errorf("failed to unmarshal into target: %w", err)
	}

	return nil
}

// bookingModel is the PMS reservation model queried during sync
const bookingModel = "stay.reservation"

var bookingFields = []string{"ref", "unit_ref", "guest_name", "checkin", "checkout", "state", "write_date"}

// ListChangedSince returns reservations modified after the watermark,
// oldest first, so the caller can advance its watermark incrementally.
func (c *Client) ListChangedSince(since time.Time, limit int) ([]Booking, error) {
	if c.Uid == 0 {
		if _, err := c.Authenticate(); err != nil {
			return nil, err
		}
	}

	domain := []interface{}{
		[]interface{}{"write_date", ">", since.UTC().Format(pmsTimeLayout)},
	}

	var bookings []Booking
	if err := c.SearchRead(bookingModel, domain, bookingFields, limit, 0, &bookings); err != nil {
		return nil, fmt.Errorf("failed to list changed reservations: %w", err)
	}
	return bookings, nil
}
