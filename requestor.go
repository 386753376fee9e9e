package ldclient

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/gregjones/httpcache"
)

// SDK endpoints
const (
	LatestFlagsPath    = "/sdk/latest-flags"
	LatestSegmentsPath = "/sdk/latest-segments"
	LatestAllPath      = "/sdk/latest-all"
)

type allData struct {
	Flags    map[string]*FeatureFlag `json:"flags"`
	Segments map[string]*Segment     `json:"segments"`
}

// requestor is responsible for polling requests against the LaunchDarkly polling endpoints.
// Responses are cached by ETag, so an unchanged payload costs only a 304 round trip.
type requestor struct {
	sdkKey     string
	httpClient *http.Client
	config     Config
}

func newRequestor(sdkKey string, config Config, httpClient *http.Client) *requestor {
	baseClient := http.Client{}
	if httpClient != nil {
		baseClient = *httpClient
	} else {
		baseClient = *config.newHTTPClient()
	}

	cachingTransport := &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           baseClient.Transport,
	}

	modifiedClient := cachingTransport.Client()
	modifiedClient.Timeout = baseClient.Timeout

	requestor := requestor{
		sdkKey:     sdkKey,
		httpClient: modifiedClient,
		config:     config,
	}

	return &requestor
}

// requestAll fetches the full data set. The cached return value is true if the response was
// served from the ETag cache (HTTP 304), meaning the data has not changed and the store does
// not need to be reinitialized.
func (r *requestor) requestAll() (allData, bool, error) {
	if r.config.Loggers.IsDebugEnabled() {
		r.config.Loggers.Debug("Polling LaunchDarkly for feature flag updates")
	}

	var data allData
	body, cached, err := r.makeRequest(LatestAllPath)
	if err != nil {
		return allData{}, false, err
	}
	if cached {
		return allData{}, true, nil
	}
	jsonErr := json.Unmarshal(body, &data)
	if jsonErr != nil {
		return allData{}, false, jsonErr
	}
	return data, cached, nil
}

// requestResource fetches a single flag or segment. A 404 means the item does not exist and
// is not an error; it returns (nil, nil) in that case.
func (r *requestor) requestResource(kind VersionedDataKind, key string) (VersionedData, error) {
	var resource string
	switch kind.GetNamespace() {
	case "segments":
		resource = LatestSegmentsPath + "/" + key
	case "features":
		resource = LatestFlagsPath + "/" + key
	default:
		return nil, fmt.Errorf("unexpected item type: %s", kind.GetNamespace())
	}
	body, _, err := r.makeRequest(resource)
	if err != nil {
		if hse, ok := err.(httpStatusError); ok && hse.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	item := kind.GetDefaultItem().(VersionedData)
	if err = json.Unmarshal(body, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (r *requestor) makeRequest(resource string) ([]byte, bool, error) {
	req, reqErr := http.NewRequest("GET", r.config.BaseUri+resource, nil)
	if reqErr != nil {
		return nil, false, reqErr
	}
	url := req.URL.String()
	addBaseHeaders(req, r.sdkKey, r.config)

	res, resErr := r.httpClient.Do(req)
	if resErr != nil {
		return nil, false, resErr
	}

	defer func() {
		_, _ = ioutil.ReadAll(res.Body)
		_ = res.Body.Close()
	}()

	if err := checkForHttpError(res.StatusCode, url); err != nil {
		return nil, false, err
	}

	cached := res.Header.Get(httpcache.XFromCache) != ""

	body, ioErr := ioutil.ReadAll(res.Body)

	if ioErr != nil {
		return nil, false, ioErr
	}
	return body, cached, nil
}
