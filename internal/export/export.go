// Package export streams device listings into downloadable formats. Encoders
// write one device at a time so exports never materialize the full fleet in
// memory.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"streaming-status/backend/internal/device/domain"
)

// Formats understood by NewEncoder.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// UnsupportedFormatError reports an export format the API does not offer.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported export format: %q (expected %s or %s)", e.Format, FormatCSV, FormatJSON)
}

// Encoder writes devices one by one into an output stream.
type Encoder interface {
	// Write appends one device to the stream.
	Write(device *domain.Device) error
	// Flush terminates the stream. No Write may follow.
	Flush() error
}

// NewEncoder returns the encoder for format, writing to w.
func NewEncoder(w io.Writer, format string) (Encoder, error) {
	switch format {
	case FormatCSV:
		return newCSVEncoder(w), nil
	case FormatJSON:
		return newJSONEncoder(w), nil
	}
	return nil, &UnsupportedFormatError{Format: format}
}

// ContentType returns the response content type for format.
func ContentType(format string) string {
	if format == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// deviceColumns is the canonical export column list. Clients key on these
// dotted paths; order and spelling are part of the API.
var deviceColumns = []string{
	"name",
	"connectivity.connected",
	"connectivity.timestamp",
	"connectivity.disconnectReason",
	"connectivity.disconnectReasonDescription",
	"provider",
	"deviceInfo.organization",
	"deviceInfo.project",
	"deviceInfo.provisioningStatus",
	"deviceInfo.provisioningTimestamp",
	"deviceInfo.registrationStatus",
	"deviceInfo.registrationTimestamp",
	"label",
}

type csvEncoder struct {
	w           *csv.Writer
	wroteHeader bool
}

func newCSVEncoder(w io.Writer) *csvEncoder {
	return &csvEncoder{w: csv.NewWriter(w)}
}

func (e *csvEncoder) Write(device *domain.Device) error {
	if !e.wroteHeader {
		if err := e.w.Write(deviceColumns); err != nil {
			return err
		}
		e.wroteHeader = true
	}
	row := make([]string, len(deviceColumns))
	for i, column := range deviceColumns {
		row[i] = columnValue(device, column)
	}
	return e.w.Write(row)
}

func (e *csvEncoder) Flush() error {
	if !e.wroteHeader {
		// An empty export still carries the header row.
		if err := e.w.Write(deviceColumns); err != nil {
			return err
		}
		e.wroteHeader = true
	}
	e.w.Flush()
	return e.w.Error()
}

func columnValue(device *domain.Device, column string) string {
	switch column {
	case "name":
		return device.Name
	case "provider":
		return device.Provider
	case "label":
		return string(device.Label)
	}

	if conn := device.Connectivity; conn != nil {
		switch column {
		case "connectivity.connected":
			return strconv.FormatBool(conn.Connected)
		case "connectivity.timestamp":
			return formatEpoch(conn.Timestamp)
		case "connectivity.disconnectReason":
			return stringValue(conn.DisconnectReason)
		case "connectivity.disconnectReasonDescription":
			return stringValue(conn.DisconnectReasonDescription)
		}
	}
	if info := device.Info; info != nil {
		switch column {
		case "deviceInfo.organization":
			return info.Organization
		case "deviceInfo.project":
			return info.Project
		case "deviceInfo.provisioningStatus":
			return stringValue(info.ProvisioningStatus)
		case "deviceInfo.provisioningTimestamp":
			return formatEpoch(info.ProvisioningTimestamp)
		case "deviceInfo.registrationStatus":
			return stringValue(info.RegistrationStatus)
		case "deviceInfo.registrationTimestamp":
			return formatEpoch(info.RegistrationTimestamp)
		}
	}
	return ""
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatEpoch(seconds *float64) string {
	if seconds == nil {
		return ""
	}
	return strconv.FormatFloat(*seconds, 'f', -1, 64)
}

type jsonEncoder struct {
	w     io.Writer
	enc   *json.Encoder
	count int
	done  bool
}

func newJSONEncoder(w io.Writer) *jsonEncoder {
	return &jsonEncoder{w: w, enc: json.NewEncoder(w)}
}

func (e *jsonEncoder) Write(device *domain.Device) error {
	separator := ","
	if e.count == 0 {
		separator = "["
	}
	if _, err := io.WriteString(e.w, separator); err != nil {
		return err
	}
	e.count++
	return e.enc.Encode(device)
}

func (e *jsonEncoder) Flush() error {
	if e.done {
		return nil
	}
	e.done = true
	if e.count == 0 {
		_, err := io.WriteString(e.w, "[]")
		return err
	}
	_, err := io.WriteString(e.w, "]")
	return err
}
