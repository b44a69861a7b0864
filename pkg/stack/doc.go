// Package stack assembles the resource graph for a GraphQL engine running
// on a container service in front of a serverless relational database.
//
// Assembly runs in a fixed order of stages, each consuming the handles
// produced by the stages before it:
//
//	NetworkTopology -> AccessControl -> DataTier -> ComputeTier -> Wiring
//
// The Builder runs them as a handler chain; each handler reads its inputs
// from typed context keys and hands its output to the next.
//
// Builder.Build returns either a finalized graph or an error. It never
// touches live infrastructure except through the network Resolver it is
// given; provisioning the graph is left to an external deployment engine.
package stack
