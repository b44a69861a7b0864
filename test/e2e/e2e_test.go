//go:build e2e
// +build e2e

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const (
	// sampleConfig is the committed stack configuration
	sampleConfig = "hasura-stack.yaml"

	// sampleContext holds the cached lookup for the sample network
	sampleContext = "hasura-stack.context.yaml"

	stackName = "HasuraStack"
)

var _ = Describe("hasura-stack", Ordered, func() {
	var outputDir string

	BeforeAll(func() {
		outputDir = filepath.Join(GinkgoT().TempDir(), "stack.out")
	})

	// After each failed test, dump whatever the synth wrote for debugging.
	AfterEach(func() {
		if !CurrentSpecReport().Failed() {
			return
		}
		entries, err := os.ReadDir(outputDir)
		if err != nil {
			GinkgoWriter.Printf("No bundle written: %s\n", err)
			return
		}
		for _, e := range entries {
			GinkgoWriter.Printf("bundle file: %s\n", e.Name())
		}
	})

	Context("validate", func() {
		It("should accept the sample configuration", func() {
			out, err := run(stackCmd("validate", "-c", sampleConfig, "--context-file", sampleContext))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(stackName + " is valid"))
		})

		It("should reject a network that was never looked up", func() {
			emptyContext := filepath.Join(GinkgoT().TempDir(), "empty.context.yaml")
			Expect(os.WriteFile(emptyContext, []byte("networks: {}\n"), 0o644)).To(Succeed())

			out, err := run(stackCmd("validate", "-c", sampleConfig, "--context-file", emptyContext))
			Expect(err).To(HaveOccurred())
			Expect(out).To(ContainSubstring("no cached network matches"))
		})

		It("should reject an invalid configuration", func() {
			dir := GinkgoT().TempDir()
			data, err := os.ReadFile(filepath.Join(projectDir, sampleConfig))
			Expect(err).NotTo(HaveOccurred())
			broken := strings.Replace(string(data), "maxCapacity: 1", "maxCapacity: 0.25", 1)
			path := filepath.Join(dir, "broken.yaml")
			Expect(os.WriteFile(path, []byte(broken), 0o644)).To(Succeed())

			out, err := run(stackCmd("validate", "-c", path, "--context-file", sampleContext))
			Expect(err).To(HaveOccurred())
			Expect(out).To(ContainSubstring("maxCapacity"))
		})
	})

	Context("graph", func() {
		It("should print the network before the database and service", func() {
			out, err := run(stackCmd("graph", "-c", sampleConfig, "--context-file", sampleContext))
			Expect(err).NotTo(HaveOccurred())

			Expect(out).To(ContainSubstring("wave 0:"))
			dbSG := strings.Index(out, "  DbSecurityGroup (")
			cluster := strings.Index(out, "  DatabaseCluster (")
			service := strings.Index(out, "  HasuraService (")
			Expect(dbSG).To(BeNumerically(">=", 0))
			Expect(cluster).To(BeNumerically(">", dbSG))
			Expect(service).To(BeNumerically(">", cluster))
		})
	})

	Context("synth", func() {
		It("should write the bundle", func() {
			metricsFile := filepath.Join(GinkgoT().TempDir(), "synth.prom")
			out, err := run(stackCmd("synth", "-c", sampleConfig, "--context-file", sampleContext,
				"-o", outputDir, "--metrics-file", metricsFile))
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(stackName + ":"))

			for _, name := range []string{
				"manifest.json",
				stackName + ".template.json",
				stackName + ".template.yaml",
				stackName + ".graph.json",
			} {
				Expect(filepath.Join(outputDir, name)).To(BeAnExistingFile())
			}

			metrics, err := os.ReadFile(metricsFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(metrics)).To(ContainSubstring(`hasura_stack_synth_total{result="success"} 1`))
		})

		It("should record the built image in the manifest", func() {
			data, err := os.ReadFile(filepath.Join(outputDir, "manifest.json"))
			Expect(err).NotTo(HaveOccurred())

			var manifest struct {
				Environment string `json:"environment"`
				RenderHash  string `json:"renderHash"`
				Images      []struct {
					ID   string `json:"id"`
					Hash string `json:"hash"`
				} `json:"images"`
			}
			Expect(json.Unmarshal(data, &manifest)).To(Succeed())
			Expect(manifest.Environment).To(Equal("aws://123456789012/us-east-2"))
			Expect(manifest.RenderHash).NotTo(BeEmpty())
			Expect(manifest.Images).To(HaveLen(1))
			Expect(manifest.Images[0].ID).To(Equal("HasuraGraphqlEngineImage"))
			Expect(manifest.Images[0].Hash).NotTo(BeEmpty())
		})

		It("should render the scaling bounds onto the cluster", func() {
			data, err := os.ReadFile(filepath.Join(outputDir, stackName+".template.json"))
			Expect(err).NotTo(HaveOccurred())

			var template struct {
				Resources map[string]struct {
					Type       string                 `json:"Type"`
					Properties map[string]interface{} `json:"Properties"`
				} `json:"Resources"`
			}
			Expect(json.Unmarshal(data, &template)).To(Succeed())

			cluster, found := template.Resources["DatabaseCluster"]
			Expect(found).To(BeTrue())
			Expect(cluster.Type).To(Equal("AWS::RDS::DBCluster"))
			Expect(cluster.Properties).To(HaveKeyWithValue("ServerlessV2ScalingConfiguration",
				map[string]interface{}{"MinCapacity": "0.5", "MaxCapacity": "1"}))
		})

		It("should guard the public service with a generated admin secret", func() {
			data, err := os.ReadFile(filepath.Join(outputDir, stackName+".template.json"))
			Expect(err).NotTo(HaveOccurred())

			var template struct {
				Resources map[string]struct {
					Type string `json:"Type"`
				} `json:"Resources"`
				Outputs map[string]interface{} `json:"Outputs"`
			}
			Expect(json.Unmarshal(data, &template)).To(Succeed())

			secret, found := template.Resources["HasuraServiceAdminSecret"]
			Expect(found).To(BeTrue())
			Expect(secret.Type).To(Equal("AWS::SecretsManager::Secret"))
			Expect(template.Outputs).To(HaveKey("HasuraAdminSecretArn"))
		})

		It("should produce an identical bundle on a second run", func() {
			first, err := os.ReadFile(filepath.Join(outputDir, stackName+".template.json"))
			Expect(err).NotTo(HaveOccurred())

			again := filepath.Join(GinkgoT().TempDir(), "again")
			_, err = run(stackCmd("synth", "-c", sampleConfig, "--context-file", sampleContext, "-o", again))
			Expect(err).NotTo(HaveOccurred())

			second, err := os.ReadFile(filepath.Join(again, stackName+".template.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))
		})
	})
})
