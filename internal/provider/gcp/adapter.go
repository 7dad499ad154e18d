// Package gcp implements the Google Cloud provider adapter.
package gcp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// DefaultLocation is used for buckets when the request names no region.
const DefaultLocation = "US"

// Adapter implements provider.Adapter for Google Cloud Storage sites.
type Adapter struct {
	creds credentials.Reader
	now   func() time.Time

	// newBuckets opens a storage client; replaced in tests.
	newBuckets func(ctx context.Context, c *credentials.Credentials) (Buckets, error)
}

// New creates a new GCP adapter.
func New(creds credentials.Reader) *Adapter {
	return &Adapter{creds: creds, now: time.Now, newBuckets: newGCSBuckets}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.GCP
}

func errFunctionsSetup() error {
	return provider.Errorf(provider.VendorError, provider.GCP, "Cloud Functions deployment requires proper authentication setup")
}

func (a *Adapter) connect(ctx context.Context) (Buckets, string, error) {
	c, err := credentials.Resolve(a.creds, provider.GCP)
	if err != nil {
		return nil, "", err
	}
	if c.ProjectID == "" {
		return nil, "", provider.MissingCredentials(provider.GCP)
	}
	b, err := a.newBuckets(ctx, c)
	if err != nil {
		return nil, "", vendorErr("connect", err)
	}
	return b, c.ProjectID, nil
}

// Deploy publishes the code as a static site bucket.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	switch req.Service {
	case "storage":
	case "functions":
		return nil, errFunctionsSetup()
	default:
		return nil, provider.UnsupportedService(provider.GCP, req.Service)
	}

	b, project, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	location := req.Region
	if location == "" {
		location = DefaultLocation
	}
	name := bucketName(req.Name, a.now().Unix())
	attrs := &storage.BucketAttrs{
		Name:     name,
		Location: location,
		Labels:   map[string]string{resource.Marker: "true"},
		Website:  &storage.BucketWebsite{MainPageSuffix: "index.html"},
	}
	if err := b.Create(ctx, project, attrs); err != nil {
		return nil, vendorErr("create bucket", err)
	}

	object := objectName(req.CodeType)
	if err := b.Write(ctx, name, object, contentType(req.CodeType), []byte(req.Code)); err != nil {
		return nil, vendorErr("upload", err)
	}

	return &resource.Deployment{
		ID:        name,
		Name:      req.Name,
		Type:      "storage",
		Region:    location,
		Status:    "active",
		URL:       objectURL(name, object),
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Created bucket %s in %s", name, location),
			"Uploaded " + object,
		},
	}, nil
}

// ListResources lists buckets carrying the marker label.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	b, project, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	buckets, err := b.List(ctx, project)
	if err != nil {
		return nil, vendorErr("list buckets", err)
	}

	var resources []resource.Resource
	for _, attrs := range buckets {
		r := a.convertBucket(attrs)
		if r.IsMarked() {
			resources = append(resources, r)
		}
	}
	return resources, nil
}

func (a *Adapter) convertBucket(attrs *storage.BucketAttrs) resource.Resource {
	r := resource.Resource{
		ID:          attrs.Name,
		Name:        attrs.Name,
		Type:        "storage",
		Provider:    string(provider.GCP),
		Region:      strings.ToLower(attrs.Location),
		Status:      "active",
		Labels:      attrs.Labels,
		CreatedAt:   attrs.Created,
		LastChecked: a.now(),
	}
	if attrs.Website != nil && attrs.Website.MainPageSuffix != "" {
		r.URL = objectURL(attrs.Name, attrs.Website.MainPageSuffix)
	}
	return r
}

// ResourceStatus reports "active" for an existing bucket.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	switch typ {
	case "storage":
	case "functions":
		return "", errFunctionsSetup()
	default:
		return "", provider.UnsupportedType(provider.GCP, typ)
	}

	b, _, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	defer b.Close()

	if _, err := b.Attrs(ctx, id); err != nil {
		return "", vendorErr("bucket attrs", err)
	}
	return "active", nil
}

// DeleteResource empties and deletes a bucket.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	switch typ {
	case "storage":
	case "functions":
		return errFunctionsSetup()
	default:
		return provider.UnsupportedType(provider.GCP, typ)
	}

	b, _, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.Delete(ctx, id); err != nil {
		return vendorErr("delete bucket", err)
	}
	return nil
}

func vendorErr(op string, err error) error {
	return provider.Wrap(provider.VendorError, provider.GCP, op, fmt.Errorf("gcp: %w", err))
}

func bucketName(name string, unix int64) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(name), strconv.FormatInt(unix, 36))
}

func objectName(codeType string) string {
	if codeType == resource.CodeHTML {
		return "index.html"
	}
	return provider.SourceFile(codeType)
}

func objectURL(bucket, object string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, object)
}

func contentType(codeType string) string {
	switch codeType {
	case resource.CodeHTML:
		return "text/html"
	case resource.CodeJavaScript:
		return "application/javascript"
	default:
		return "text/plain"
	}
}
