package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Dial    twimlDial
}

type twimlDial struct {
	XMLName   xml.Name `xml:"Dial"`
	TimeLimit string   `xml:"timeLimit,attr,omitempty"`
	Conf      twimlConference
}

type twimlConference struct {
	XMLName                 xml.Name `xml:"Conference"`
	Name                    string   `xml:",chardata"`
	StartConferenceOnEnter  bool     `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit     bool     `xml:"endConferenceOnExit,attr"`
	Beep                    bool     `xml:"beep,attr"`
	StatusCallback          string   `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent     string   `xml:"statusCallbackEvent,attr,omitempty"`
	StatusCallbackMethod    string   `xml:"statusCallbackMethod,attr,omitempty"`
	Record                  string   `xml:"record,attr,omitempty"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
}

// ConferenceParams configures the dial instructions for one participant.
type ConferenceParams struct {
	Name                 string
	TimeLimitSeconds     int
	StartOnEnter         bool
	StatusCallbackURL    string
	RecordingCallbackURL string
	Record               bool
}

// RenderConferenceJoin returns TwiML joining the answered leg to the named conference.
// Leaving ends the conference for everyone so a one-sided bridge never lingers.
func RenderConferenceJoin(p ConferenceParams) (string, error) {
	if strings.TrimSpace(p.Name) == "" {
		return "", errors.New("telephony: conference name required")
	}

	conf := twimlConference{
		Name:                   p.Name,
		StartConferenceOnEnter: p.StartOnEnter,
		EndConferenceOnExit:    true,
		StatusCallback:         p.StatusCallbackURL,
	}
	if p.StatusCallbackURL != "" {
		conf.StatusCallbackEvent = "start end join leave"
		conf.StatusCallbackMethod = "POST"
	}
	if p.Record {
		conf.Record = "record-from-start"
		conf.RecordingStatusCallback = p.RecordingCallbackURL
	}

	r := twimlResponse{Dial: twimlDial{Conf: conf}}
	if p.TimeLimitSeconds > 0 {
		r.Dial.TimeLimit = strconv.Itoa(p.TimeLimitSeconds)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
